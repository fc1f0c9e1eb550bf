// Package worker applies moderation decisions published by the moderation
// tooling on NATS JetStream.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/internal/platform/natsconn"
	"github.com/example/nonprofit-platform/services/threads/internal/idempotency"
	"github.com/example/nonprofit-platform/services/threads/internal/thread"
)

const DLQSubject = "threads.dlq.moderation"

// DecisionEvent is the payload of moderation.comments.decided.
type DecisionEvent struct {
	EventID     string `json:"event_id"`
	CommentID   string `json:"comment_id"`
	ModeratorID string `json:"moderator_id"`
	Decision    string `json:"decision"`
}

// Moderator is the part of thread.Service the consumer drives.
type Moderator interface {
	Moderate(ctx context.Context, id string, actor auth.Viewer, decision thread.Decision) (thread.View, error)
}

// Outcome tells the fetch loop how to settle a message.
type Outcome int

const (
	Ack Outcome = iota
	Nak
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	default:
		return "dead_letter"
	}
}

type ModerationConsumer struct {
	Log       *zap.Logger
	JS        nats.JetStreamContext
	Moderator Moderator
	Ledger    idempotency.Ledger

	Stream  string
	Subject string
	Durable string
	Batch   int
	// MaxDeliver caps redeliveries before a message goes to DLQSubject.
	MaxDeliver int
}

// Run consumes until ctx is cancelled.
func (c *ModerationConsumer) Run(ctx context.Context) error {
	if err := natsconn.EnsureStream(c.JS, c.Stream, c.Subject, 7*24*time.Hour); err != nil {
		return fmt.Errorf("ensure stream %s: %w", c.Stream, err)
	}
	sub, err := c.JS.PullSubscribe(c.Subject, c.Durable)
	if err != nil {
		return fmt.Errorf("pull subscribe %s: %w", c.Subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	batch := c.Batch
	if batch <= 0 {
		batch = 10
	}
	c.Log.Info("moderation consumer started", zap.String("subject", c.Subject), zap.String("durable", c.Durable))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(batch, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Warn("moderation fetch failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			c.settle(ctx, m)
		}
	}
}

func (c *ModerationConsumer) settle(ctx context.Context, m *nats.Msg) {
	attempt := uint64(1)
	if md, err := m.Metadata(); err == nil && md != nil {
		attempt = md.NumDelivered
	}

	outcome := c.Handle(ctx, m.Data)
	if outcome == Nak && c.MaxDeliver > 0 && attempt >= uint64(c.MaxDeliver) {
		outcome = DeadLetter
	}

	switch outcome {
	case Ack:
		_ = m.Ack()
	case Nak:
		_ = m.NakWithDelay(backoffDelay(attempt))
	case DeadLetter:
		if err := c.publishDLQ(m.Data, attempt); err != nil {
			c.Log.Warn("moderation dlq publish failed", zap.Error(err))
			_ = m.NakWithDelay(backoffDelay(attempt))
			return
		}
		_ = m.Term()
	}
}

// Handle applies one decision event and reports how to settle it. Domain
// rejections are final and acknowledged; infrastructure errors are retried.
func (c *ModerationConsumer) Handle(ctx context.Context, data []byte) Outcome {
	var ev DecisionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.Log.Warn("bad moderation payload", zap.Error(err))
		return DeadLetter
	}
	ev.EventID = strings.TrimSpace(ev.EventID)
	if ev.EventID == "" || ev.CommentID == "" || ev.ModeratorID == "" {
		c.Log.Warn("incomplete moderation event", zap.String("event_id", ev.EventID))
		return DeadLetter
	}
	decision, err := thread.ParseDecision(ev.Decision)
	if err != nil {
		c.Log.Warn("unknown moderation decision", zap.String("event_id", ev.EventID), zap.String("decision", ev.Decision))
		return DeadLetter
	}

	seen, err := c.Ledger.Seen(ctx, ev.EventID)
	if err != nil {
		c.Log.Warn("decision ledger lookup failed", zap.String("event_id", ev.EventID), zap.Error(err))
		return Nak
	}
	if seen {
		return Ack
	}

	actor := auth.Viewer{ID: ev.ModeratorID, Role: auth.RoleModerator}
	_, err = c.Moderator.Moderate(ctx, ev.CommentID, actor, decision)
	switch {
	case err == nil:
		c.record(ctx, ev, "applied")
		return Ack
	case errors.Is(err, thread.ErrBusy):
		c.Log.Info("moderation decision contended, retrying",
			zap.String("event_id", ev.EventID),
			zap.String("comment_id", ev.CommentID),
		)
		return Nak
	case errors.Is(err, thread.ErrNotFound), errors.Is(err, thread.ErrConflict),
		errors.Is(err, thread.ErrForbidden), errors.Is(err, thread.ErrValidation):
		c.Log.Info("moderation decision not applied",
			zap.String("event_id", ev.EventID),
			zap.String("comment_id", ev.CommentID),
			zap.Error(err),
		)
		c.record(ctx, ev, refusal(err))
		return Ack
	default:
		c.Log.Warn("moderation decision failed",
			zap.String("event_id", ev.EventID),
			zap.String("comment_id", ev.CommentID),
			zap.Error(err),
		)
		return Nak
	}
}

// record marks ev as handled, even when ctx was cancelled after the decision
// became final.
func (c *ModerationConsumer) record(ctx context.Context, ev DecisionEvent, outcome string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := c.Ledger.Record(rctx, idempotency.Entry{EventID: ev.EventID, CommentID: ev.CommentID, Outcome: outcome})
	if err != nil {
		c.Log.Warn("decision ledger record failed", zap.String("event_id", ev.EventID), zap.Error(err))
	}
}

func refusal(err error) string {
	switch {
	case errors.Is(err, thread.ErrNotFound):
		return "not_found"
	case errors.Is(err, thread.ErrConflict):
		return "conflict"
	case errors.Is(err, thread.ErrForbidden):
		return "forbidden"
	default:
		return "invalid"
	}
}

func (c *ModerationConsumer) publishDLQ(data []byte, attempt uint64) error {
	msg := map[string]any{
		"subject":   c.Subject,
		"attempts":  attempt,
		"payload":   json.RawMessage(data),
		"failed_at": time.Now().UTC(),
	}
	if !json.Valid(data) {
		msg["payload"] = string(data)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.JS.Publish(DLQSubject, b)
	return err
}
