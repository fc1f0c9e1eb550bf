package idempotency

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresLedger uses the processed_events table created with the comments
// schema. The pool belongs to the caller.
type postgresLedger struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func newPostgresLedger(pool *pgxpool.Pool, ttl time.Duration) *postgresLedger {
	return &postgresLedger{pool: pool, ttl: ttl}
}

func (l *postgresLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	q := `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`
	args := []any{eventID}
	if l.ttl > 0 {
		q = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1 AND created_at > now() - $2::interval)`
		args = append(args, l.ttl)
	}
	var seen bool
	if err := l.pool.QueryRow(ctx, q, args...).Scan(&seen); err != nil {
		return false, err
	}
	return seen, nil
}

func (l *postgresLedger) Record(ctx context.Context, e Entry) error {
	const q = `INSERT INTO processed_events (event_id, subject, comment_id, outcome)
	           VALUES ($1, 'moderation', $2, $3)
	           ON CONFLICT (event_id) DO NOTHING`
	_, err := l.pool.Exec(ctx, q, e.EventID, e.CommentID, e.Outcome)
	return err
}

func (l *postgresLedger) Close() error { return nil }
