package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transcript/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if EARSHOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("EARSHOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EARSHOT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestLog creates a Log on a freshly dropped table.
func newTestLog(t *testing.T, opts ...postgres.Option) *postgres.Log {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcript_entries"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	l, err := postgres.New(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

// The tests share one table, so they do not run in parallel.

func TestLog_AppendDrain(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := l.Append(ctx, transcript.Entry{Text: "hello", Mode: "local", Provider: "whisper", At: at, AudioDuration: 1500 * time.Millisecond})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first.Seq == 0 || !first.At.Equal(at) {
		t.Errorf("first = %+v", first)
	}
	second, err := l.Append(ctx, transcript.Entry{Text: "world", Mode: "cloud"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.Seq <= first.Seq || second.At.IsZero() {
		t.Errorf("second = %+v", second)
	}

	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if transcript.Join(pending) != "hello world" {
		t.Errorf("pending = %+v", pending)
	}
	if pending[0].AudioDuration != 1500*time.Millisecond || pending[0].Provider != "whisper" {
		t.Errorf("round trip = %+v", pending[0])
	}

	drained, err := l.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(drained) != 2 || drained[0].Seq != first.Seq || !drained[1].Drained {
		t.Errorf("drained = %+v", drained)
	}
	if again, _ := l.Drain(ctx); len(again) != 0 {
		t.Errorf("second drain = %+v", again)
	}

	last, err := l.Last(ctx)
	if err != nil || last.Text != "world" {
		t.Errorf("Last = %+v, %v", last, err)
	}
}

func TestLog_ClearAndEmpty(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	if _, err := l.Last(ctx); !errors.Is(err, transcript.ErrNotFound) {
		t.Errorf("Last on empty = %v, want ErrNotFound", err)
	}
	if _, err := l.Append(ctx, transcript.Entry{Text: "x"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	pending, err := l.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("Pending after Clear = %+v, %v", pending, err)
	}
	if err := l.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestLog_MaxEntries(t *testing.T) {
	l := newTestLog(t, postgres.WithMaxEntries(2))
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := l.Append(ctx, transcript.Entry{Text: text}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	pending, err := l.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if got := transcript.Join(pending); got != "b c" {
		t.Errorf("pending = %q, want b c", got)
	}
}
