// Package audit keeps a history of phrase registry edits in SQLite.
//
// Entries are queued and written in batches by a background goroutine; a
// full queue falls back to a direct insert. A nil *Log records nothing, so
// callers can hold an optional log without checks.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/phrasemark/idgen"
	"github.com/hazyhaar/phrasemark/kit"
)

// Actions.
const (
	PutPhrase    = "put_phrase"
	DeletePhrase = "delete_phrase"
	ClearPhrases = "clear_phrases"
	SetEnabled   = "set_enabled"
)

const schema = `
CREATE TABLE IF NOT EXISTS registry_audit (
	entry_id  TEXT PRIMARY KEY,
	ts        INTEGER NOT NULL,
	transport TEXT NOT NULL,
	trace_id  TEXT NOT NULL DEFAULT '',
	action    TEXT NOT NULL,
	phrase    TEXT NOT NULL DEFAULT '',
	detail    TEXT NOT NULL DEFAULT '',
	error     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_registry_audit_ts ON registry_audit(ts DESC);`

const insertSQL = `INSERT INTO registry_audit
	(entry_id, ts, transport, trace_id, action, phrase, detail, error)
	VALUES (?,?,?,?,?,?,?,?)`

// Entry is one registry edit.
type Entry struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Transport string    `json:"transport"`
	TraceID   string    `json:"trace_id,omitempty"`
	Action    string    `json:"action"`
	Phrase    string    `json:"phrase,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Action string
	Phrase string
	Since  time.Time
	Limit  int // default 100
}

// Options tunes a Log.
type Options struct {
	// Buffer is the queue length. Default: 256.
	Buffer int
	// FlushInterval bounds how long an entry waits in the queue.
	// Default: 2s.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Log is an asynchronous audit writer.
type Log struct {
	db     *sql.DB
	opts   Options
	newID  idgen.Generator
	ch     chan Entry
	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

// Open creates the audit table in db and starts the writer.
func Open(db *sql.DB, opts Options) (*Log, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: schema: %w", err)
	}
	l := &Log{
		db:     db,
		opts:   opts,
		newID:  idgen.Prefixed("audit_", idgen.Default),
		ch:     make(chan Entry, opts.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	go l.flushLoop()
	return l, nil
}

// Record queues e. Transport and trace id are taken from ctx when unset.
func (l *Log) Record(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Transport == "" {
		e.Transport = kit.GetTransport(ctx)
	}
	if e.TraceID == "" {
		e.TraceID = kit.GetTraceID(ctx)
	}
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("audit: queue full, writing inline", "action", e.Action)
		if err := l.insert(context.Background(), e); err != nil {
			l.logger.Error("audit: insert", "error", err, "entry", e.ID)
		}
	}
}

// RecordErr records action on phrase with err's message, if any.
func (l *Log) RecordErr(ctx context.Context, action, phrase, detail string, err error) {
	e := Entry{Action: action, Phrase: phrase, Detail: detail}
	if err != nil {
		e.Error = err.Error()
	}
	l.Record(ctx, e)
}

// Query returns the newest entries matching f. Queued entries not yet
// flushed are not visible.
func (l *Log) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}
	q := `SELECT entry_id, ts, transport, trace_id, action, phrase, detail, error
		FROM registry_audit WHERE 1=1`
	var args []any
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Phrase != "" {
		q += " AND phrase = ?"
		args = append(args, f.Phrase)
	}
	if !f.Since.IsZero() {
		q += " AND ts >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY ts DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Transport, &e.TraceID, &e.Action, &e.Phrase, &e.Detail, &e.Error); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than age.
func (l *Log) Cleanup(ctx context.Context, age time.Duration) (int64, error) {
	if l == nil {
		return 0, nil
	}
	res, err := l.db.ExecContext(ctx, "DELETE FROM registry_audit WHERE ts < ?", time.Now().Add(-age).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close writes what is queued and stops the writer.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	close(l.stop)
	<-l.done
	return nil
}

func (l *Log) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()
	batch := make([]Entry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.insertBatch(batch); err != nil {
			l.logger.Error("audit: flush", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) == cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (l *Log) insertBatch(batch []Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, e.ID, e.Time.UnixMilli(), e.Transport, e.TraceID, e.Action, e.Phrase, e.Detail, e.Error); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (l *Log) insert(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, insertSQL, e.ID, e.Time.UnixMilli(), e.Transport, e.TraceID, e.Action, e.Phrase, e.Detail, e.Error)
	return err
}
