package querylog

import (
	"sort"
	"sync"

	"dnsforwarder/internal/log"
)

// Appender is the write side of a query log.
type Appender interface {
	// Append records a single event.
	Append(event QueryEvent)
}

// Sink is a destination for committed events.
type Sink interface {
	// Write records a single event. It is never invoked concurrently by Log.
	Write(event QueryEvent) error

	// Close flushes and releases the sink.
	Close() error
}

// Log is an append-only, arrival-ordered sequence of QueryEvents. Events may be appended in any
// order by concurrent handlers; they are written to the sink strictly in Seq order. An event whose
// predecessors have not yet been appended is held back until they arrive.
type Log struct {
	sink   Sink
	logger log.Logger
	window int

	mutex   sync.Mutex
	next    uint64
	pending map[uint64]QueryEvent
	closed  bool
}

// LogOpts formalizes query log configuration options.
type LogOpts struct {
	// ReorderWindow is the maximum number of events held back while waiting for a missing
	// predecessor. Once exceeded, the gap is skipped and held events are written; a predecessor
	// arriving after that is written as soon as it is appended.
	ReorderWindow int
}

// NewLog creates a query log writing to the specified sink. Write failures are reported through
// the logger and do not interrupt the log.
func NewLog(sink Sink, logger log.Logger, opts LogOpts) *Log {
	if opts.ReorderWindow <= 0 {
		opts.ReorderWindow = 1024
	}

	return &Log{
		sink:    sink,
		logger:  logger,
		window:  opts.ReorderWindow,
		pending: make(map[uint64]QueryEvent),
	}
}

// Append commits an event. It is safe for concurrent use.
func (l *Log) Append(event QueryEvent) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		l.logger.Warn("querylog: dropping event appended after close: seq=%d", event.Seq)
		return
	}

	// Predecessors skipped over by an earlier window overflow are written immediately.
	if event.Seq < l.next {
		l.write(event)
		return
	}

	l.pending[event.Seq] = event
	l.flush()

	if len(l.pending) > l.window {
		l.logger.Warn(
			"querylog: reorder window exceeded; skipping missing events: from=%d pending=%d",
			l.next,
			len(l.pending),
		)

		l.next = l.lowestPending()
		l.flush()
	}
}

// Close writes any held events in Seq order and closes the sink.
func (l *Log) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	seqs := make([]uint64, 0, len(l.pending))
	for seq := range l.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		l.write(l.pending[seq])
		delete(l.pending, seq)
	}

	return l.sink.Close()
}

// flush writes held events for as long as the next expected Seq is available.
func (l *Log) flush() {
	for {
		event, ok := l.pending[l.next]
		if !ok {
			return
		}

		delete(l.pending, l.next)
		l.write(event)
		l.next++
	}
}

// lowestPending returns the smallest held Seq. It must only be called with a non-empty pending set.
func (l *Log) lowestPending() uint64 {
	first := true
	var lowest uint64

	for seq := range l.pending {
		if first || seq < lowest {
			lowest = seq
			first = false
		}
	}

	return lowest
}

func (l *Log) write(event QueryEvent) {
	if err := l.sink.Write(event); err != nil {
		l.logger.Error("querylog: error writing event to sink: seq=%d err=%v", event.Seq, err)
	}
}
