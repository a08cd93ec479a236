package querylog

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dnsforwarder/internal/log"
)

// recordingSink keeps every written event in memory.
type recordingSink struct {
	mutex  sync.Mutex
	events []QueryEvent
	closed bool
	err    error
}

func (s *recordingSink) Write(event QueryEvent) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.closed = true
	return s.err
}

func (s *recordingSink) seqs() []uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	seqs := make([]uint64, len(s.events))
	for i, event := range s.events {
		seqs[i] = event.Seq
	}
	return seqs
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testLogger() log.Logger {
	core, _ := observer.New(zapcore.DebugLevel)
	return log.NewZapLoggerWithCore(log.Debug, core)
}

func TestLogWritesInArrivalOrder(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog(sink, testLogger(), LogOpts{})

	for _, seq := range []uint64{2, 0, 3, 1, 4} {
		l.Append(QueryEvent{Seq: seq})
	}

	if got, want := sink.seqs(), []uint64{0, 1, 2, 3, 4}; !equalSeqs(got, want) {
		t.Errorf("written seqs = %v, want %v", got, want)
	}
}

func TestLogHoldsEventsUntilPredecessorArrives(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog(sink, testLogger(), LogOpts{})

	l.Append(QueryEvent{Seq: 1})
	l.Append(QueryEvent{Seq: 2})

	if got := sink.seqs(); len(got) != 0 {
		t.Fatalf("expected events to be held, got %v", got)
	}

	l.Append(QueryEvent{Seq: 0})

	if got, want := sink.seqs(), []uint64{0, 1, 2}; !equalSeqs(got, want) {
		t.Errorf("written seqs = %v, want %v", got, want)
	}
}

func TestLogSkipsGapWhenWindowExceeded(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog(sink, testLogger(), LogOpts{ReorderWindow: 2})

	l.Append(QueryEvent{Seq: 1})
	l.Append(QueryEvent{Seq: 2})
	l.Append(QueryEvent{Seq: 3})

	if got, want := sink.seqs(), []uint64{1, 2, 3}; !equalSeqs(got, want) {
		t.Fatalf("written seqs = %v, want %v", got, want)
	}

	// The skipped event is still recorded once it shows up.
	l.Append(QueryEvent{Seq: 0})
	l.Append(QueryEvent{Seq: 4})

	if got, want := sink.seqs(), []uint64{1, 2, 3, 0, 4}; !equalSeqs(got, want) {
		t.Errorf("written seqs = %v, want %v", got, want)
	}
}

func TestLogConcurrentAppends(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog(sink, testLogger(), LogOpts{})

	const n = 200

	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			time.Sleep(time.Duration(seq%7) * time.Millisecond)
			l.Append(QueryEvent{Seq: seq})
		}(uint64(i))
	}
	wg.Wait()

	got := sink.seqs()
	if len(got) != n {
		t.Fatalf("expected %d events, got %d", n, len(got))
	}
	for i, seq := range got {
		if seq != uint64(i) {
			t.Fatalf("event %d has seq %d", i, seq)
		}
	}
}

func TestLogCloseFlushesHeldEvents(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog(sink, testLogger(), LogOpts{})

	l.Append(QueryEvent{Seq: 3})
	l.Append(QueryEvent{Seq: 1})

	if err := l.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	if got, want := sink.seqs(), []uint64{1, 3}; !equalSeqs(got, want) {
		t.Errorf("written seqs = %v, want %v", got, want)
	}
	if !sink.closed {
		t.Error("expected sink to be closed")
	}

	l.Append(QueryEvent{Seq: 0})
	if got := sink.seqs(); len(got) != 2 {
		t.Errorf("expected append after close to be dropped, got %v", got)
	}
}

func TestLogReportsSinkErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &recordingSink{err: errors.New("disk full")}
	l := NewLog(sink, log.NewZapLoggerWithCore(log.Debug, core), LogOpts{})

	l.Append(QueryEvent{Seq: 0})

	if logs.FilterMessageSnippet("disk full").Len() != 1 {
		t.Errorf("expected the sink error to be logged, got %v", logs.AllUntimed())
	}
}

func TestOutcomeStrings(t *testing.T) {
	for _, outcome := range []Outcome{Forwarded, Timeout, ParseError, RelayError} {
		parsed, ok := ParseOutcome(outcome.String())
		if !ok || parsed != outcome {
			t.Errorf("ParseOutcome(%q) = (%v, %v)", outcome.String(), parsed, ok)
		}
	}

	if _, ok := ParseOutcome("cached"); ok {
		t.Error("expected unknown outcome to fail parsing")
	}
}

func TestEventOptionalFields(t *testing.T) {
	tests := []struct {
		event       QueryEvent
		wantDomain  bool
		wantLatency bool
		display     string
	}{
		{QueryEvent{Outcome: Forwarded, Domain: "example.com"}, true, true, "example.com"},
		{QueryEvent{Outcome: Timeout, Domain: "example.com"}, true, false, "example.com"},
		{QueryEvent{Outcome: RelayError, Domain: ""}, true, false, "."},
		{QueryEvent{Outcome: ParseError}, false, false, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.event.Outcome.String(), func(t *testing.T) {
			if tt.event.HasDomain() != tt.wantDomain {
				t.Errorf("HasDomain() = %v", tt.event.HasDomain())
			}
			if tt.event.HasLatency() != tt.wantLatency {
				t.Errorf("HasLatency() = %v", tt.event.HasLatency())
			}
			if tt.event.DisplayDomain() != tt.display {
				t.Errorf("DisplayDomain() = %q, want %q", tt.event.DisplayDomain(), tt.display)
			}
		})
	}
}
