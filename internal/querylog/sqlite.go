package querylog

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"dnsforwarder/internal/log"
)

// SQLiteSink persists events to a SQLite database. Writes are queued on a buffered channel and
// inserted in batches by a single worker goroutine, so a slow disk never blocks the caller.
type SQLiteSink struct {
	db     *sql.DB
	logger log.Logger
	opts   SQLiteSinkOpts

	events chan QueryEvent
	done   chan struct{}

	mutex  sync.RWMutex
	closed bool
}

// SQLiteSinkOpts formalizes SQLite sink configuration options.
type SQLiteSinkOpts struct {
	// BufferSize is the capacity of the write queue. Events written while the queue is full are
	// rejected with an error.
	BufferSize int
	// BatchSize is the maximum number of events inserted in a single transaction.
	BatchSize int
	// FlushInterval is the maximum time an event waits in a partial batch.
	FlushInterval time.Duration
}

const schema = `
CREATE TABLE IF NOT EXISTS query_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  seq INTEGER NOT NULL,
  timestamp TEXT NOT NULL,
  client TEXT NOT NULL,
  domain TEXT,
  outcome TEXT NOT NULL,
  latency_ms REAL,
  reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_query_events_timestamp ON query_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_query_events_domain ON query_events(domain);
`

// NewSQLiteSink opens (creating if necessary) the database at path and starts the insert worker.
func NewSQLiteSink(path string, logger log.Logger, opts SQLiteSinkOpts) (*SQLiteSink, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 4096
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}

	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "querylog: error opening sqlite database: path=%s", path)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "querylog: error enabling sqlite WAL journal")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "querylog: error migrating sqlite schema")
	}

	s := &SQLiteSink{
		db:     db,
		logger: logger,
		opts:   opts,
		events: make(chan QueryEvent, opts.BufferSize),
		done:   make(chan struct{}),
	}

	go s.worker()

	return s, nil
}

// Write queues the event for insertion.
func (s *SQLiteSink) Write(event QueryEvent) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.closed {
		return errors.Errorf("querylog: sqlite sink is closed: seq=%d", event.Seq)
	}

	select {
	case s.events <- event:
		return nil
	default:
		return errors.Errorf("querylog: sqlite sink queue full; dropping event: seq=%d", event.Seq)
	}
}

// Close inserts every queued event, then closes the database.
func (s *SQLiteSink) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil
	}
	s.closed = true
	close(s.events)
	s.mutex.Unlock()

	<-s.done

	return s.db.Close()
}

// Events reads back persisted events in insertion order, for reporting tools.
func (s *SQLiteSink) Events(ctx context.Context) ([]QueryEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT seq, timestamp, client, domain, outcome, latency_ms, reason FROM query_events ORDER BY id`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querylog: error querying events")
	}
	defer rows.Close()

	var events []QueryEvent
	for rows.Next() {
		var (
			event     QueryEvent
			timestamp string
			domain    sql.NullString
			outcome   string
			latencyMs sql.NullFloat64
			reason    sql.NullString
		)

		if err := rows.Scan(&event.Seq, &timestamp, &event.Client, &domain, &outcome, &latencyMs, &reason); err != nil {
			return nil, errors.Wrap(err, "querylog: error scanning event row")
		}

		if event.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, errors.Wrapf(err, "querylog: malformed event timestamp: seq=%d", event.Seq)
		}

		var ok bool
		if event.Outcome, ok = ParseOutcome(outcome); !ok {
			return nil, errors.Errorf("querylog: unknown event outcome: seq=%d outcome=%q", event.Seq, outcome)
		}

		event.Domain = domain.String
		event.Latency = time.Duration(latencyMs.Float64 * float64(time.Millisecond))
		event.Reason = reason.String

		events = append(events, event)
	}

	return events, rows.Err()
}

// worker drains the queue, inserting events in batches until the queue is closed.
func (s *SQLiteSink) worker() {
	defer close(s.done)

	batch := make([]QueryEvent, 0, s.opts.BatchSize)
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := s.insert(batch); err != nil {
			s.logger.Error("querylog: sqlite insert failed; dropping events: count=%d err=%v", len(batch), err)
		}

		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				flush()
				return
			}

			batch = append(batch, event)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// insert writes a batch of events in a single transaction.
func (s *SQLiteSink) insert(events []QueryEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO query_events(seq, timestamp, client, domain, outcome, latency_ms, reason)
VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, event := range events {
		var domain, latencyMs, reason interface{}

		if event.HasDomain() {
			domain = event.Domain
		}

		if event.HasLatency() {
			latencyMs = float64(event.Latency) / float64(time.Millisecond)
		}

		if event.Reason != "" {
			reason = event.Reason
		}

		if _, err := stmt.Exec(
			int64(event.Seq),
			event.Timestamp.Format(time.RFC3339Nano),
			event.Client,
			domain,
			event.Outcome.String(),
			latencyMs,
			reason,
		); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}
