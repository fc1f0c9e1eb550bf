// Package counter keeps the cached reply counters of a parent comment in step
// with its children's lifecycle transitions.
package counter

import (
	"context"
	"fmt"

	"github.com/example/nonprofit-platform/services/threads/internal/store"
)

// Adjuster applies relative counter deltas. store.Tx satisfies it.
type Adjuster interface {
	AdjustReplyCounts(ctx context.Context, id string, approvedDelta, totalDelta int) error
}

// ReplyCounter translates child transitions into counter deltas on the parent.
// It must be called with the transaction that performs the row mutation so
// both commit together. A nil parent means a top-level comment; no counters
// are touched.
type ReplyCounter struct{}

// OnCreate records a new child created in state.
func (ReplyCounter) OnCreate(ctx context.Context, a Adjuster, parentID *string, state store.ApprovalState) error {
	return apply(ctx, a, parentID, weight(state), 1)
}

// OnApprovalChange records a moderation transition of a live child.
func (ReplyCounter) OnApprovalChange(ctx context.Context, a Adjuster, parentID *string, from, to store.ApprovalState) error {
	return apply(ctx, a, parentID, weight(to)-weight(from), 0)
}

// OnDelete records the soft delete of a child whose state was prior.
func (ReplyCounter) OnDelete(ctx context.Context, a Adjuster, parentID *string, prior store.ApprovalState) error {
	return apply(ctx, a, parentID, -weight(prior), -1)
}

func weight(s store.ApprovalState) int {
	if s == store.StateApproved {
		return 1
	}
	return 0
}

func apply(ctx context.Context, a Adjuster, parentID *string, approved, total int) error {
	if parentID == nil || (approved == 0 && total == 0) {
		return nil
	}
	if err := a.AdjustReplyCounts(ctx, *parentID, approved, total); err != nil {
		return fmt.Errorf("adjust reply counts of %s: %w", *parentID, err)
	}
	return nil
}
