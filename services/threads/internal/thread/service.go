// Package thread is the entry point of the comment engine: submitting,
// removing and moderating comments, and listing one thread level at a time
// for a given viewer.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/internal/platform/events"
	"github.com/example/nonprofit-platform/services/threads/internal/content"
	"github.com/example/nonprofit-platform/services/threads/internal/counter"
	"github.com/example/nonprofit-platform/services/threads/internal/moderation"
	"github.com/example/nonprofit-platform/services/threads/internal/paginate"
	"github.com/example/nonprofit-platform/services/threads/internal/store"
)

// Subjects of the events published after a committed change.
const (
	SubjectSubmitted = "threads.comment.submitted"
	SubjectRemoved   = "threads.comment.removed"
	SubjectModerated = "threads.comment.moderated"
)

// Config holds the engine limits.
type Config struct {
	MaxBodyRunes  int
	DefaultLimit  int
	MaxLimit      int
	MaxDepth      int
	ScanBatchRows int
}

func DefaultConfig() Config {
	return Config{
		MaxBodyRunes:  5000,
		DefaultLimit:  20,
		MaxLimit:      100,
		MaxDepth:      3,
		ScanBatchRows: paginate.DefaultBatchRows,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBodyRunes <= 0 {
		c.MaxBodyRunes = d.MaxBodyRunes
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.ScanBatchRows <= 0 {
		c.ScanBatchRows = d.ScanBatchRows
	}
	return c
}

// Decision is a moderation outcome for a pending comment.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts "approve"/"approved" and "reject"/"rejected".
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return DecisionApprove, nil
	case "reject", "rejected":
		return DecisionReject, nil
	}
	return "", invalid("INVALID_DECISION", "decision must be approve or reject, got %q", s)
}

func (d Decision) state() store.ApprovalState {
	if d == DecisionApprove {
		return store.StateApproved
	}
	return store.StateRejected
}

type Service struct {
	store   store.Store
	items   content.Checker
	pages   *paginate.Paginator
	counter counter.ReplyCounter
	events  events.Sink
	log     *zap.Logger
	cfg     Config
}

// New wires a Service. sink may be nil when events are not published.
func New(st store.Store, items content.Checker, sink events.Sink, log *zap.Logger, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:  st,
		items:  items,
		pages:  &paginate.Paginator{Store: st, BatchRows: cfg.ScanBatchRows},
		events: sink,
		log:    log,
		cfg:    cfg,
	}
}

func (s *Service) Config() Config { return s.cfg }

// Submit creates a comment on contentItemID, as a reply to parentID when it is
// non-nil. The result is rendered for the author, who always sees their own
// comment even while it is pending.
func (s *Service) Submit(ctx context.Context, contentItemID string, parentID *string, author auth.Viewer, body string) (View, error) {
	if author.IsAnonymous() {
		return View{}, fmt.Errorf("%w: sign in to comment", ErrForbidden)
	}
	contentItemID = strings.TrimSpace(contentItemID)
	if contentItemID == "" {
		return View{}, invalid("CONTENT_ITEM_REQUIRED", "content item id is required")
	}
	if parentID != nil && strings.TrimSpace(*parentID) == "" {
		parentID = nil
	}
	body, err := s.normalizeBody(body)
	if err != nil {
		return View{}, err
	}

	ok, err := s.items.Exists(ctx, contentItemID)
	if err != nil {
		return View{}, fmt.Errorf("check content item %s: %w", contentItemID, err)
	}
	if !ok {
		return View{}, notFound("content item", contentItemID)
	}

	var created store.Comment
	err = s.inTx(ctx, "submit", func(ctx context.Context, tx store.Tx) error {
		c := store.Comment{
			ContentItemID: contentItemID,
			AuthorID:      author.ID,
			Body:          body,
			ApprovalState: moderation.InitialState(author),
		}
		if parentID != nil {
			parent, err := tx.Get(ctx, *parentID)
			if errors.Is(err, store.ErrNotFound) {
				return notFound("parent comment", *parentID)
			}
			if err != nil {
				return err
			}
			if !moderation.Visible(parent, author) {
				return notFound("parent comment", *parentID)
			}
			if parent.ContentItemID != contentItemID {
				return invalid("PARENT_MISMATCH", "parent comment belongs to another content item")
			}
			pid := parent.ID
			c.ParentID = &pid
			c.RootID = parent.RootID
			c.Depth = parent.Depth + 1
		}

		inserted, err := tx.Insert(ctx, c)
		if errors.Is(err, store.ErrNotFound) && parentID != nil {
			return notFound("parent comment", *parentID)
		}
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		if err := s.counter.OnCreate(ctx, tx, inserted.ParentID, inserted.ApprovalState); err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.publish(SubjectSubmitted, "comment.submitted", author.ID, created)
	s.log.Info("comment submitted",
		zap.String("comment_id", created.ID),
		zap.String("content_item_id", created.ContentItemID),
		zap.String("approval_state", string(created.ApprovalState)),
	)
	return s.render(created, author), nil
}

// Remove soft-deletes a comment. Replies are kept and stay reachable.
func (s *Service) Remove(ctx context.Context, id string, actor auth.Viewer) error {
	var removed store.Comment
	err := s.inTx(ctx, "remove", func(ctx context.Context, tx store.Tx) error {
		c, err := s.lockExisting(ctx, tx, id)
		if err != nil {
			return err
		}
		if !moderation.CanRemove(c, actor) {
			return fmt.Errorf("%w: only the author or a moderator may remove a comment", ErrForbidden)
		}
		if err := tx.SoftDelete(ctx, c.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("comment", id)
			}
			return fmt.Errorf("soft delete: %w", err)
		}
		if err := s.counter.OnDelete(ctx, tx, c.ParentID, c.ApprovalState); err != nil {
			return err
		}
		removed = c
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(SubjectRemoved, "comment.removed", actor.ID, removed)
	s.log.Info("comment removed", zap.String("comment_id", removed.ID), zap.String("actor_id", actor.ID))
	return nil
}

// Moderate applies decision to a pending comment.
func (s *Service) Moderate(ctx context.Context, id string, actor auth.Viewer, decision Decision) (View, error) {
	if !moderation.CanModerate(actor) {
		return View{}, fmt.Errorf("%w: moderator role required", ErrForbidden)
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return View{}, invalid("INVALID_DECISION", "decision must be approve or reject, got %q", decision)
	}
	to := decision.state()

	var updated store.Comment
	err := s.inTx(ctx, "moderate", func(ctx context.Context, tx store.Tx) error {
		c, err := s.lockLive(ctx, tx, id, actor)
		if err != nil {
			return err
		}
		if c.ApprovalState != store.StatePending {
			return fmt.Errorf("%w: comment is already %s", ErrConflict, c.ApprovalState)
		}
		if err := tx.SetApproval(ctx, c.ID, to); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return notFound("comment", id)
			}
			return fmt.Errorf("set approval: %w", err)
		}
		if err := s.counter.OnApprovalChange(ctx, tx, c.ParentID, c.ApprovalState, to); err != nil {
			return err
		}
		c.ApprovalState = to
		updated = c
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.publish(SubjectModerated, "comment.moderated", actor.ID, updated)
	s.log.Info("comment moderated",
		zap.String("comment_id", updated.ID),
		zap.String("decision", string(decision)),
		zap.String("moderator_id", actor.ID),
	)
	return s.render(updated, actor), nil
}

// ListTopLevel returns one page of the top-level comments of a content item.
func (s *Service) ListTopLevel(ctx context.Context, contentItemID string, viewer auth.Viewer, cursor string, limit int) (PageView, error) {
	contentItemID = strings.TrimSpace(contentItemID)
	if contentItemID == "" {
		return PageView{}, invalid("CONTENT_ITEM_REQUIRED", "content item id is required")
	}
	return s.page(ctx, paginate.TopLevel(contentItemID), viewer, cursor, limit)
}

// ListReplies returns one page of the direct replies to parentID. Replies of a
// removed comment stay listable.
func (s *Service) ListReplies(ctx context.Context, parentID string, viewer auth.Viewer, cursor string, limit int) (PageView, error) {
	parent, err := s.store.Get(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return PageView{}, notFound("comment", parentID)
	}
	if err != nil {
		return PageView{}, fmt.Errorf("get parent: %w", err)
	}
	if !parent.IsDeleted() && !moderation.Visible(parent, viewer) {
		return PageView{}, notFound("comment", parentID)
	}
	return s.page(ctx, paginate.RepliesOf(parent), viewer, cursor, limit)
}

func (s *Service) page(ctx context.Context, scope paginate.Scope, viewer auth.Viewer, cursor string, limit int) (PageView, error) {
	page, err := s.pages.Page(ctx, scope, viewer, cursor, s.clampLimit(limit))
	if errors.Is(err, store.ErrInvalidCursor) {
		return PageView{}, invalid("INVALID_CURSOR", "cursor is malformed or expired")
	}
	if err != nil {
		return PageView{}, err
	}
	return PageView{Nodes: s.renderAll(page.Nodes, viewer), NextCursor: page.NextCursor}, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	return min(limit, s.cfg.MaxLimit)
}

// lockExisting reads id for update; tombstones are reported as ErrNotFound.
func (s *Service) lockExisting(ctx context.Context, tx store.Tx, id string) (store.Comment, error) {
	c, err := tx.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Comment{}, notFound("comment", id)
	}
	if err != nil {
		return store.Comment{}, err
	}
	if c.IsDeleted() {
		return store.Comment{}, notFound("comment", id)
	}
	return c, nil
}

// lockLive is lockExisting that also hides comments the actor cannot see
// behind ErrNotFound.
func (s *Service) lockLive(ctx context.Context, tx store.Tx, id string, actor auth.Viewer) (store.Comment, error) {
	c, err := s.lockExisting(ctx, tx, id)
	if err != nil {
		return store.Comment{}, err
	}
	if !moderation.Visible(c, actor) {
		return store.Comment{}, notFound("comment", id)
	}
	return c, nil
}

// inTx runs fn and retries it once when the store reports contention.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.store.InTx(ctx, fn)
	if !errors.Is(err, store.ErrContention) {
		return err
	}
	s.log.Warn("store contention, retrying", zap.String("op", op), zap.Error(err))
	err = s.store.InTx(ctx, fn)
	if errors.Is(err, store.ErrContention) {
		return fmt.Errorf("%w: %w: %s raced with a concurrent update, try again", ErrConflict, ErrBusy, op)
	}
	return err
}

// normalizeBody trims surrounding whitespace. The rest of the body is stored
// verbatim.
func (s *Service) normalizeBody(body string) (string, error) {
	clean := strings.TrimSpace(body)
	if clean == "" {
		return "", invalid("BODY_EMPTY", "comment body must not be empty")
	}
	if n := utf8.RuneCountInString(clean); n > s.cfg.MaxBodyRunes {
		return "", invalid("BODY_TOO_LONG", "comment body is %d characters, the limit is %d", n, s.cfg.MaxBodyRunes)
	}
	return clean, nil
}

func (s *Service) publish(subject, name, actorID string, c store.Comment) {
	if s.events == nil {
		return
	}
	props := map[string]any{
		"comment_id":      c.ID,
		"content_item_id": c.ContentItemID,
		"root_id":         c.RootID,
		"author_id":       c.AuthorID,
		"approval_state":  string(c.ApprovalState),
	}
	if c.ParentID != nil {
		props["parent_id"] = *c.ParentID
	}
	s.events.Publish(subject, name, actorID, props)
}
