package thread

import (
	"time"

	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/services/threads/internal/moderation"
	"github.com/example/nonprofit-platform/services/threads/internal/store"
)

// View is a comment as rendered for one viewer.
type View struct {
	ID            string    `json:"id"`
	ContentItemID string    `json:"content_item_id"`
	ParentID      *string   `json:"parent_id"`
	RootID        string    `json:"root_id"`
	AuthorID      string    `json:"author_id"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
	Depth         int       `json:"depth"`
	// Indent is min(depth, MaxDepth); deeper replies render at the last level.
	Indent     int `json:"indent"`
	ReplyCount int `json:"reply_count"`
	// ApprovalState is set only for the author and moderators.
	ApprovalState store.ApprovalState `json:"approval_state,omitempty"`
	// TotalReplyCount includes unapproved replies; moderators only.
	TotalReplyCount *int `json:"total_reply_count,omitempty"`
}

// PageView is one page of a scope.
type PageView struct {
	Nodes      []View `json:"nodes"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func (s *Service) render(c store.Comment, v auth.Viewer) View {
	out := View{
		ID:            c.ID,
		ContentItemID: c.ContentItemID,
		ParentID:      c.ParentID,
		RootID:        c.RootID,
		AuthorID:      c.AuthorID,
		Body:          c.Body,
		CreatedAt:     c.CreatedAt,
		Depth:         c.Depth,
		Indent:        min(c.Depth, s.cfg.MaxDepth),
		ReplyCount:    c.ReplyCount,
	}
	if moderation.CanSeeTrueState(c, v) {
		out.ApprovalState = c.ApprovalState
	}
	if moderation.CanSeeTotals(v) {
		total := c.TotalReplyCount
		out.TotalReplyCount = &total
	}
	return out
}

func (s *Service) renderAll(cs []store.Comment, v auth.Viewer) []View {
	out := make([]View, 0, len(cs))
	for _, c := range cs {
		out = append(out, s.render(c, v))
	}
	return out
}
