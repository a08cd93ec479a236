package querylog

import (
	"go.uber.org/multierr"
)

// TeeSink writes every event to each of several sinks.
type TeeSink struct {
	sinks []Sink
}

// NewTeeSink creates a sink fanning out to the specified sinks, in order.
func NewTeeSink(sinks ...Sink) *TeeSink {
	return &TeeSink{sinks: sinks}
}

// Write writes the event to every sink, even if some of them fail.
func (t *TeeSink) Write(event QueryEvent) error {
	var err error
	for _, sink := range t.sinks {
		err = multierr.Append(err, sink.Write(event))
	}

	return err
}

// Close closes every sink, even if some of them fail.
func (t *TeeSink) Close() error {
	var err error
	for _, sink := range t.sinks {
		err = multierr.Append(err, sink.Close())
	}

	return err
}
