package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/raven-go"
	"golang.org/x/sync/errgroup"

	"dnsforwarder/internal/log"
	"dnsforwarder/internal/meta"
	"dnsforwarder/internal/metrics"
	"dnsforwarder/internal/network"
	"dnsforwarder/internal/protocol"
	"dnsforwarder/internal/querylog"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("DNSFORWARDER_CONFIG"),
		"path to the configuration file on disk; defaults are used if empty",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled dnsforwarder version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"info",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("dnsforwarder/%s\n", meta.VersionSHA)
		return
	}

	level, ok := log.ParseLevel(*verbosity)
	if !ok {
		level = log.Info
	}

	// Parse application configuration before the file logger can be built
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		fatal(log.NewConsoleLogger(level), err)
	}

	logger := log.NewZapLogger(level, &log.FileOpts{
		Path:       config.Log.File,
		MaxSizeMB:  config.Log.MaxSizeMB,
		MaxBackups: config.Log.MaxBackups,
		MaxAgeDays: config.Log.MaxAgeDays,
		Compress:   config.Log.Compress,
	})
	defer logger.Sync()

	logger.Debug("main: initialized logger: level=%v config=%s", level, *configPath)

	// Configure error reporting
	if config.Application.SentryDSN != "" {
		raven.SetDSN(config.Application.SentryDSN)
		raven.SetRelease(meta.VersionSHA)
	}

	// Configure metrics reporting
	upstreamCxLifecycleHook := metrics.NewNoopConnectionLifecycleHook()
	clientCxIOHook := metrics.NewNoopConnectionIOHook()
	upstreamCxIOHook := metrics.NewNoopConnectionIOHook()
	proxyHook := metrics.NewNoopProxyHook()

	if config.Metrics != nil && config.Metrics.Statsd != nil {
		statsd := config.Metrics.Statsd

		logger.Info(
			"main: configuring statsd metrics reporting: addr=%s sample_rate=%f",
			statsd.Address,
			statsd.SampleRate,
		)

		if upstreamCxLifecycleHook, err = metrics.NewAsyncStatsdConnectionLifecycleHook(
			"upstream",
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			fatal(logger, err)
		}

		if clientCxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"client",
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			fatal(logger, err)
		}

		if upstreamCxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"upstream",
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			fatal(logger, err)
		}

		if proxyHook, err = metrics.NewAsyncStatsdProxyHook(
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		); err != nil {
			fatal(logger, err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Configure the query log
	sink := querylog.Sink(querylog.NewZapSink(logger.Desugar()))

	if config.QueryLog.SQLitePath != "" {
		logger.Info("main: persisting query log to sqlite: path=%s", config.QueryLog.SQLitePath)

		sqliteSink, err := querylog.NewSQLiteSink(config.QueryLog.SQLitePath, logger, querylog.SQLiteSinkOpts{})
		if err != nil {
			fatal(logger, err)
		}

		sink = querylog.NewTeeSink(sink, sqliteSink)
	}

	queryLog := querylog.NewLog(sink, logger, querylog.LogOpts{
		ReorderWindow: config.QueryLog.ReorderWindow,
	})

	// Configure the upstream
	logger.Info(
		"main: relaying queries to upstream: addr=%s timeout=%v",
		config.Upstream.Address,
		config.Upstream.Timeout,
	)

	client := network.NewUDPClient(
		config.Upstream.Address,
		upstreamCxLifecycleHook,
		upstreamCxIOHook,
		network.UDPClientOpts{
			Timeout:       config.Upstream.Timeout,
			MaxPacketSize: config.Upstream.MaxPacketSize,
		},
	)

	h := &protocol.DNSForwardHandler{
		Upstream:       client,
		QueryLog:       queryLog,
		ClientCxIOHook: clientCxIOHook,
		ProxyHook:      proxyHook,
		Logger:         logger,
		Opts: protocol.DNSForwardOpts{
			MaxPacketSize:     config.Listener.UDP.MaxPacketSize,
			ServFailOnFailure: config.Upstream.ServFailOnFailure,
		},
	}

	// Configure the server listener
	logger.Info(
		"main: configuring UDP server listener: addr=%s max_concurrent_conns=%d",
		config.Listener.UDP.Address,
		config.Listener.UDP.MaxConcurrentConnections,
	)

	server := network.NewUDPServer(config.Listener.UDP.Address, network.UDPServerOpts{
		MaxConcurrentConnections: config.Listener.UDP.MaxConcurrentConnections,
		ReadTimeout:              config.Listener.UDP.ReadTimeout,
		WriteTimeout:             config.Listener.UDP.WriteTimeout,
		MaxPacketSize:            config.Listener.UDP.MaxPacketSize,
	})

	if err := server.Listen(); err != nil {
		queryLog.Close()
		fatal(logger, err)
	}

	// Serve until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(ctx, h) })

	logger.Info("main: serving: addr=%v", server.Addr())

	serveErr := g.Wait()

	logger.Info("main: shutting down; flushing query log")

	if err := queryLog.Close(); err != nil {
		logger.Error("main: error closing query log: err=%v", err)
	}

	if serveErr != nil {
		fatal(logger, serveErr)
	}
}

// fatal reports an unrecoverable error and exits.
func fatal(logger *log.ZapLogger, err error) {
	logger.Error("main: fatal: %v", err)
	raven.CaptureErrorAndWait(err, nil)
	logger.Sync()

	os.Exit(1)
}
