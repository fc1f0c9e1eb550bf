package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/nonprofit-platform/internal/platform/api"
	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/internal/platform/httpserver"
	"github.com/example/nonprofit-platform/services/threads/internal/thread"
)

// Threads is the engine surface exposed over HTTP.
type Threads interface {
	Submit(ctx context.Context, contentItemID string, parentID *string, author auth.Viewer, body string) (thread.View, error)
	Remove(ctx context.Context, id string, actor auth.Viewer) error
	Moderate(ctx context.Context, id string, actor auth.Viewer, decision thread.Decision) (thread.View, error)
	ListTopLevel(ctx context.Context, contentItemID string, viewer auth.Viewer, cursor string, limit int) (thread.PageView, error)
	ListReplies(ctx context.Context, parentID string, viewer auth.Viewer, cursor string, limit int) (thread.PageView, error)
}

type submitCommentRequest struct {
	ParentID *string `json:"parent_id,omitempty"`
	Body     string  `json:"body"`
}

// Routes mounts the comment API on r. limiter may be nil.
func Routes(r chi.Router, svc Threads, resolver auth.Resolver, limiter *RateLimiter, log *zap.Logger) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.ResolveViewer(resolver))

		r.Get("/items/{item_id}/comments", ListTopLevel(svc, log))
		r.Get("/comments/{comment_id}/replies", ListReplies(svc, log))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			if limiter != nil {
				r.Use(limiter.Middleware)
			}
			r.Post("/items/{item_id}/comments", SubmitComment(svc, log))
			r.Delete("/comments/{comment_id}", RemoveComment(svc, log))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireModerator)
			r.Post("/comments/{comment_id}/approve", ModerateComment(svc, thread.DecisionApprove, log))
			r.Post("/comments/{comment_id}/reject", ModerateComment(svc, thread.DecisionReject, log))
		})
	})
}

// SubmitComment handles POST /v1/items/{item_id}/comments
func SubmitComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		itemID := strings.TrimSpace(chi.URLParam(r, "item_id"))
		if itemID == "" {
			api.BadRequest(w, "MISSING_ID", "item_id is required", rid, nil)
			return
		}

		var req submitCommentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
			return
		}

		view, err := svc.Submit(r.Context(), itemID, req.ParentID, auth.ViewerFromContext(r.Context()), req.Body)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, view)
	}
}

// ListTopLevel handles GET /v1/items/{item_id}/comments
func ListTopLevel(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		itemID := strings.TrimSpace(chi.URLParam(r, "item_id"))
		if itemID == "" {
			api.BadRequest(w, "MISSING_ID", "item_id is required", rid, nil)
			return
		}
		cursor, limit, ok := pageParams(w, r)
		if !ok {
			return
		}

		page, err := svc.ListTopLevel(r.Context(), itemID, auth.ViewerFromContext(r.Context()), cursor, limit)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, page)
	}
}

// ListReplies handles GET /v1/comments/{comment_id}/replies
func ListReplies(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", rid, nil)
			return
		}
		cursor, limit, ok := pageParams(w, r)
		if !ok {
			return
		}

		page, err := svc.ListReplies(r.Context(), commentID, auth.ViewerFromContext(r.Context()), cursor, limit)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, page)
	}
}

// RemoveComment handles DELETE /v1/comments/{comment_id}
func RemoveComment(svc Threads, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", rid, nil)
			return
		}

		if err := svc.Remove(r.Context(), commentID, auth.ViewerFromContext(r.Context())); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ModerateComment handles POST /v1/comments/{comment_id}/approve and /reject
func ModerateComment(svc Threads, decision thread.Decision, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		commentID := strings.TrimSpace(chi.URLParam(r, "comment_id"))
		if commentID == "" {
			api.BadRequest(w, "MISSING_ID", "comment_id is required", rid, nil)
			return
		}

		if _, err := svc.Moderate(r.Context(), commentID, auth.ViewerFromContext(r.Context()), decision); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// pageParams reads cursor and limit. A missing limit is passed as 0 so the
// engine applies its default.
func pageParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	q := r.URL.Query()
	limit := 0
	if l := strings.TrimSpace(q.Get("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			rid := httpserver.RequestIDFromContext(r.Context())
			api.BadRequest(w, "INVALID_LIMIT", "limit must be a positive integer", rid, map[string]any{"limit": l})
			return "", 0, false
		}
		limit = n
	}
	return strings.TrimSpace(q.Get("cursor")), limit, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())

	var ve *thread.ValidationError
	switch {
	case errors.As(err, &ve):
		api.BadRequest(w, ve.Code, ve.Message, rid, nil)
	case errors.Is(err, thread.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", err.Error(), rid)
	case errors.Is(err, thread.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", err.Error(), rid)
	case errors.Is(err, thread.ErrConflict):
		api.Conflict(w, "CONFLICT", err.Error(), rid, nil)
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
	case errors.Is(err, context.DeadlineExceeded):
		api.Unavailable(w, "TIMEOUT", "request timed out", rid)
	default:
		httpserver.Logger(r.Context(), log).Error("threads request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		api.Internal(w, rid)
	}
}
