package content

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChecker reads the content service's content_items table.
type PostgresChecker struct {
	pool *pgxpool.Pool
}

func NewPostgresChecker(pool *pgxpool.Pool) *PostgresChecker {
	return &PostgresChecker{pool: pool}
}

func (c *PostgresChecker) Exists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM content_items WHERE id = $1 AND removed_at IS NULL)`
	var ok bool
	if err := c.pool.QueryRow(ctx, q, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
