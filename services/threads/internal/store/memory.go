package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a development-only in-memory implementation. Transactions
// serialize on a single mutex and roll back through an undo log.
type MemoryStore struct {
	mu       sync.RWMutex
	comments map[string]Comment  // id -> comment
	scopes   map[string][]string // scope key -> ids in (created_at, id) order
	last     time.Time
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comments: make(map[string]Comment),
		scopes:   make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func scopeKey(contentItemID string, parentID *string) string {
	if parentID == nil {
		return "item:" + contentItemID
	}
	return "parent:" + *parentID
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Get(ctx context.Context, id string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return cloneComment(c), nil
}

func (s *MemoryStore) ListChildren(ctx context.Context, q ListQuery) ([]Comment, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	cur, err := DecodeCursor(q.Cursor)
	if err != nil {
		return nil, "", err
	}
	if q.Limit <= 0 {
		q.Limit = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.scopes[scopeKey(q.ContentItemID, q.ParentID)]
	start := sort.Search(len(ids), func(i int) bool {
		return cur.After(s.comments[ids[i]])
	})

	out := make([]Comment, 0, q.Limit)
	for _, id := range ids[start:] {
		c := s.comments[id]
		if c.IsDeleted() || c.ContentItemID != q.ContentItemID {
			continue
		}
		if len(out) == q.Limit {
			return out, EncodeCursor(out[len(out)-1]), nil
		}
		out = append(out, cloneComment(c))
	}
	return out, "", nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// nextCreatedAt keeps created_at strictly increasing so that append order
// matches keyset order within every scope.
func (s *MemoryStore) nextCreatedAt() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// save records the current value of id so rollback can restore it.
func (tx *memTx) save(id string) {
	prev := tx.s.comments[id]
	tx.undo = append(tx.undo, func() { tx.s.comments[id] = prev })
}

func (tx *memTx) live(id string) (Comment, error) {
	c, ok := tx.s.comments[id]
	if !ok || c.IsDeleted() {
		return Comment{}, ErrNotFound
	}
	return c, nil
}

func (tx *memTx) Get(ctx context.Context, id string) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	c, ok := tx.s.comments[id]
	if !ok {
		return Comment{}, ErrNotFound
	}
	return cloneComment(c), nil
}

func (tx *memTx) Insert(ctx context.Context, c Comment) (Comment, error) {
	if err := ctx.Err(); err != nil {
		return Comment{}, err
	}
	if c.ParentID != nil {
		parent, ok := tx.s.comments[*c.ParentID]
		if !ok {
			return Comment{}, fmt.Errorf("insert: parent %s: %w", *c.ParentID, ErrNotFound)
		}
		if parent.ContentItemID != c.ContentItemID {
			return Comment{}, fmt.Errorf("insert: parent %s belongs to another content item: %w", *c.ParentID, ErrNotFound)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Comment{}, err
	}
	c.ID = id.String()
	c.CreatedAt = tx.s.nextCreatedAt()
	c.DeletedAt = nil
	c.ReplyCount = 0
	c.TotalReplyCount = 0
	if c.ParentID == nil {
		c.RootID = c.ID
		c.Depth = 0
	}

	key := scopeKey(c.ContentItemID, c.ParentID)
	tx.s.comments[c.ID] = cloneComment(c)
	tx.s.scopes[key] = append(tx.s.scopes[key], c.ID)
	tx.undo = append(tx.undo, func() {
		delete(tx.s.comments, c.ID)
		ids := tx.s.scopes[key]
		tx.s.scopes[key] = ids[:len(ids)-1]
	})
	return cloneComment(c), nil
}

func (tx *memTx) SoftDelete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := tx.live(id)
	if err != nil {
		return err
	}
	tx.save(id)
	now := tx.s.now()
	c.DeletedAt = &now
	tx.s.comments[id] = c
	return nil
}

func (tx *memTx) SetApproval(ctx context.Context, id string, state ApprovalState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !state.Valid() {
		return fmt.Errorf("set approval: unknown state %q", state)
	}
	c, err := tx.live(id)
	if err != nil {
		return err
	}
	tx.save(id)
	c.ApprovalState = state
	tx.s.comments[id] = c
	return nil
}

func (tx *memTx) AdjustReplyCounts(ctx context.Context, id string, approvedDelta, totalDelta int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := tx.s.comments[id]
	if !ok {
		return ErrNotFound
	}
	if c.ReplyCount+approvedDelta < 0 || c.TotalReplyCount+totalDelta < 0 {
		return fmt.Errorf("adjust reply counts of %s: counter would go negative", id)
	}
	tx.save(id)
	c.ReplyCount += approvedDelta
	c.TotalReplyCount += totalDelta
	tx.s.comments[id] = c
	return nil
}

func cloneComment(c Comment) Comment {
	if c.ParentID != nil {
		p := *c.ParentID
		c.ParentID = &p
	}
	if c.DeletedAt != nil {
		d := *c.DeletedAt
		c.DeletedAt = &d
	}
	return c
}
