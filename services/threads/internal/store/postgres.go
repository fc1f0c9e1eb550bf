package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const commentColumns = `id, content_item_id, author_id, parent_id, root_id, depth, body,
	approval_state, reply_count, total_reply_count, created_at, deleted_at`

// PostgresStore persists comments in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by Postgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply comments schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Comment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id)
	return scanOne(row)
}

func (s *PostgresStore) ListChildren(ctx context.Context, q ListQuery) ([]Comment, string, error) {
	cur, err := DecodeCursor(q.Cursor)
	if err != nil {
		return nil, "", err
	}
	if q.Limit <= 0 {
		q.Limit = 1
	}

	// Fetch one extra row to learn whether the scope continues.
	var (
		where string
		args  []any
	)
	if q.ParentID == nil {
		where = `content_item_id = $1 AND parent_id IS NULL AND deleted_at IS NULL`
		args = []any{q.ContentItemID, q.Limit + 1}
	} else {
		where = `parent_id = $1 AND content_item_id = $3 AND deleted_at IS NULL`
		args = []any{*q.ParentID, q.Limit + 1, q.ContentItemID}
	}
	if cur != nil {
		n := len(args)
		where += fmt.Sprintf(` AND (created_at, id) > ($%d, $%d)`, n+1, n+2)
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query := `SELECT ` + commentColumns + ` FROM comments WHERE ` + where +
		` ORDER BY created_at ASC, id ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", classify(err)
	}
	out, err := scanComments(rows)
	if err != nil {
		return nil, "", classify(err)
	}

	var next string
	if len(out) > q.Limit {
		out = out[:q.Limit]
		next = EncodeCursor(out[len(out)-1])
	}
	return out, next, nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, id string) (Comment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1 FOR UPDATE`, id)
	return scanOne(row)
}

func (t *pgTx) Insert(ctx context.Context, c Comment) (Comment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Comment{}, err
	}
	c.ID = id.String()
	if c.ParentID == nil {
		c.RootID = c.ID
		c.Depth = 0
	}

	const q = `INSERT INTO comments (id, content_item_id, author_id, parent_id, root_id, depth, body, approval_state)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	           RETURNING ` + commentColumns
	row := t.tx.QueryRow(ctx, q, c.ID, c.ContentItemID, c.AuthorID, c.ParentID, c.RootID, c.Depth,
		c.Body, string(c.ApprovalState))
	return scanOne(row)
}

func (t *pgTx) SoftDelete(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE comments SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) SetApproval(ctx context.Context, id string, state ApprovalState) error {
	if !state.Valid() {
		return fmt.Errorf("set approval: unknown state %q", state)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE comments SET approval_state = $2 WHERE id = $1 AND deleted_at IS NULL`, id, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AdjustReplyCounts(ctx context.Context, id string, approvedDelta, totalDelta int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE comments
		 SET reply_count = reply_count + $2, total_reply_count = total_reply_count + $3
		 WHERE id = $1`, id, approvedDelta, totalDelta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOne(row pgx.Row) (Comment, error) {
	c, err := scanComment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, classify(err)
	}
	return c, nil
}

func scanComments(rows pgx.Rows) ([]Comment, error) {
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComment(row pgx.Row) (Comment, error) {
	var (
		c     Comment
		state string
	)
	err := row.Scan(&c.ID, &c.ContentItemID, &c.AuthorID, &c.ParentID, &c.RootID, &c.Depth, &c.Body,
		&state, &c.ReplyCount, &c.TotalReplyCount, &c.CreatedAt, &c.DeletedAt)
	if err != nil {
		return Comment{}, err
	}
	c.ApprovalState = ApprovalState(state)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// classify maps Postgres error codes onto store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", ErrContention, pgErr.Message)
		case "23503": // foreign_key_violation: parent missing or on another item
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.Message)
		}
	}
	return err
}
