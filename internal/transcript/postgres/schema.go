// Package postgres provides a PostgreSQL-backed transcript.Log.
//
// Entries live in the transcript_entries table. Drained entries are kept
// with drained = true so Last survives a drain; the table is pruned to the
// configured maximum number of rows after every append.
//
// Usage:
//
//	log, err := postgres.New(ctx, dsn, postgres.WithMaxEntries(1000))
//	if err != nil { … }
//	defer log.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    seq               BIGSERIAL    PRIMARY KEY,
    text              TEXT         NOT NULL,
    mode              TEXT         NOT NULL DEFAULT '',
    provider          TEXT         NOT NULL DEFAULT '',
    at                TIMESTAMPTZ  NOT NULL DEFAULT now(),
    audio_duration_ns BIGINT       NOT NULL DEFAULT 0,
    drained           BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_pending
    ON transcript_entries (seq) WHERE NOT drained;
`

// Migrate creates the transcript_entries table and its index. It is
// idempotent and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscriptEntries); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
