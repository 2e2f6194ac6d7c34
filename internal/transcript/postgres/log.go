package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/transcript"
)

var _ transcript.Log = (*Log)(nil)

// Option configures a Log.
type Option func(*Log)

// WithMaxEntries bounds the table to the n most recent rows. Zero or less
// disables pruning.
func WithMaxEntries(n int) Option {
	return func(l *Log) {
		l.maxEntries = n
	}
}

// Log is a transcript.Log backed by a pgxpool.Pool. All methods are safe
// for concurrent use.
type Log struct {
	pool       *pgxpool.Pool
	maxEntries int
}

// New connects to dsn, pings the server and runs Migrate.
func New(ctx context.Context, dsn string, opts ...Option) (*Log, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript log: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript log: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript log: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript log: %w", err)
	}
	l := &Log{pool: pool}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Close releases all pooled connections.
func (l *Log) Close() {
	l.pool.Close()
}

// Ping checks the database connection.
func (l *Log) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

const entryColumns = "seq, text, mode, provider, at, audio_duration_ns, drained"

// Append implements transcript.Log.
func (l *Log) Append(ctx context.Context, e transcript.Entry) (transcript.Entry, error) {
	const q = `
		INSERT INTO transcript_entries (text, mode, provider, at, audio_duration_ns)
		VALUES ($1, $2, $3, COALESCE($4, now()), $5)
		RETURNING seq, at`

	var at *time.Time
	if !e.At.IsZero() {
		at = &e.At
	}
	var seq int64
	if err := l.pool.QueryRow(ctx, q,
		e.Text,
		e.Mode,
		e.Provider,
		at,
		e.AudioDuration.Nanoseconds(),
	).Scan(&seq, &e.At); err != nil {
		return transcript.Entry{}, fmt.Errorf("transcript log: append: %w", err)
	}
	e.Seq = uint64(seq)
	e.Drained = false

	if l.maxEntries > 0 {
		const prune = `DELETE FROM transcript_entries WHERE seq <= $1`
		if cutoff := seq - int64(l.maxEntries); cutoff > 0 {
			if _, err := l.pool.Exec(ctx, prune, cutoff); err != nil {
				return e, fmt.Errorf("transcript log: prune: %w", err)
			}
		}
	}
	return e, nil
}

// Pending implements transcript.Log.
func (l *Log) Pending(ctx context.Context) ([]transcript.Entry, error) {
	q := "SELECT " + entryColumns + " FROM transcript_entries WHERE NOT drained ORDER BY seq"
	rows, err := l.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("transcript log: pending: %w", err)
	}
	return collectEntries(rows)
}

// Drain implements transcript.Log.
func (l *Log) Drain(ctx context.Context) ([]transcript.Entry, error) {
	q := `
		WITH d AS (
		    UPDATE transcript_entries SET drained = true
		    WHERE  NOT drained
		    RETURNING ` + entryColumns + `
		)
		SELECT ` + entryColumns + ` FROM d ORDER BY seq`

	rows, err := l.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("transcript log: drain: %w", err)
	}
	return collectEntries(rows)
}

// Last implements transcript.Log.
func (l *Log) Last(ctx context.Context) (transcript.Entry, error) {
	q := "SELECT " + entryColumns + " FROM transcript_entries ORDER BY seq DESC LIMIT 1"
	rows, err := l.pool.Query(ctx, q)
	if err != nil {
		return transcript.Entry{}, fmt.Errorf("transcript log: last: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return transcript.Entry{}, transcript.ErrNotFound
	}
	if err != nil {
		return transcript.Entry{}, fmt.Errorf("transcript log: last: %w", err)
	}
	return e, nil
}

// Clear implements transcript.Log.
func (l *Log) Clear(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, "UPDATE transcript_entries SET drained = true WHERE NOT drained"); err != nil {
		return fmt.Errorf("transcript log: clear: %w", err)
	}
	return nil
}

func scanEntry(row pgx.CollectableRow) (transcript.Entry, error) {
	var (
		e   transcript.Entry
		seq int64
		dur int64
	)
	if err := row.Scan(&seq, &e.Text, &e.Mode, &e.Provider, &e.At, &dur, &e.Drained); err != nil {
		return transcript.Entry{}, err
	}
	e.Seq = uint64(seq)
	e.AudioDuration = time.Duration(dur)
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]transcript.Entry, error) {
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("transcript log: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}
