// Package store is the durable record of comment nodes and their parent/child
// relationships. It knows nothing about viewers or moderation policy.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for unknown ids and, on mutation, for tombstoned rows.
	ErrNotFound = errors.New("comment not found")
	// ErrContention signals a transient conflict between concurrent transactions;
	// the whole unit of work may be retried.
	ErrContention = errors.New("store contention")
	// ErrInvalidCursor is returned for cursors this package did not produce.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// ApprovalState is the moderation state of a comment.
type ApprovalState string

const (
	StatePending  ApprovalState = "pending"
	StateApproved ApprovalState = "approved"
	StateRejected ApprovalState = "rejected"
)

func (s ApprovalState) Valid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected:
		return true
	}
	return false
}

// Comment is a single node of a thread.
type Comment struct {
	ID            string        `json:"id"`
	ContentItemID string        `json:"content_item_id"`
	AuthorID      string        `json:"author_id"`
	ParentID      *string       `json:"parent_id,omitempty"`
	RootID        string        `json:"root_id"`
	Depth         int           `json:"depth"`
	Body          string        `json:"body"`
	ApprovalState ApprovalState `json:"approval_state"`
	// ReplyCount is the number of non-deleted approved direct children.
	ReplyCount int `json:"reply_count"`
	// TotalReplyCount is the number of non-deleted direct children in any state.
	TotalReplyCount int        `json:"total_reply_count"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

func (c Comment) IsDeleted() bool  { return c.DeletedAt != nil }
func (c Comment) IsTopLevel() bool { return c.ParentID == nil }

// ListQuery selects one pagination scope: the top-level comments of a content
// item when ParentID is nil, otherwise the direct replies of ParentID.
type ListQuery struct {
	ContentItemID string
	ParentID      *string
	Cursor        string
	Limit         int
}

// Reader holds the read operations available outside a transaction.
type Reader interface {
	// Get returns the comment with id, including tombstoned rows.
	Get(ctx context.Context, id string) (Comment, error)
	// ListChildren returns up to q.Limit non-deleted rows of the scope ordered by
	// (created_at, id) ascending, strictly after q.Cursor. The returned cursor is
	// empty when the scope is exhausted.
	ListChildren(ctx context.Context, q ListQuery) ([]Comment, string, error)
}

// Tx is a unit of work. Every mutation of a comment row and of its parent's
// counters goes through the same Tx so they commit or roll back together.
type Tx interface {
	// Get reads id and locks it for the rest of the transaction.
	Get(ctx context.Context, id string) (Comment, error)
	// Insert stores c. ID and CreatedAt are assigned by the store, and RootID is
	// set to the new ID for top-level comments.
	Insert(ctx context.Context, c Comment) (Comment, error)
	SoftDelete(ctx context.Context, id string) error
	SetApproval(ctx context.Context, id string, state ApprovalState) error
	// AdjustReplyCounts applies relative deltas to the cached counters of id.
	AdjustReplyCounts(ctx context.Context, id string, approvedDelta, totalDelta int) error
}

// Store is the full comment store contract.
type Store interface {
	Reader
	// InTx runs fn in a transaction, committing when fn returns nil.
	// fn must only use tx (not the Store) and may be invoked again on retry.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}
