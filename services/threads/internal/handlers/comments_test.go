package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/nonprofit-platform/internal/platform/api"
	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/internal/platform/httpserver"
	"github.com/example/nonprofit-platform/services/threads/internal/content"
	"github.com/example/nonprofit-platform/services/threads/internal/store"
	"github.com/example/nonprofit-platform/services/threads/internal/thread"
)

// tokenResolver maps literal tokens to viewers.
type tokenResolver map[string]auth.Viewer

func (r tokenResolver) ResolveViewer(token string) (auth.Viewer, error) {
	if token == "" {
		return auth.Anonymous(), nil
	}
	v, ok := r[token]
	if !ok {
		return auth.Viewer{}, auth.ErrInvalidToken
	}
	return v, nil
}

var testTokens = tokenResolver{
	"tok-a":   {ID: "A", Role: auth.RoleUser},
	"tok-b":   {ID: "B", Role: auth.RoleUser},
	"tok-mod": {ID: "M", Role: auth.RoleModerator},
}

func newTestRouter(t *testing.T, svc Threads, limiter *RateLimiter) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	httpserver.SetupRouter(r)
	Routes(r, svc, testTokens, limiter, zap.NewNop())
	return r
}

func newEngine() *thread.Service {
	return thread.New(store.NewMemoryStore(), content.NewStaticSet("P1"), nil, nil, thread.Config{})
}

func do(t *testing.T, h http.Handler, method, url, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodePage(t *testing.T, rr *httptest.ResponseRecorder) thread.PageView {
	t.Helper()
	var page thread.PageView
	if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return page
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error.Code
}

func TestSubmitComment(t *testing.T) {
	h := newTestRouter(t, newEngine(), nil)

	rr := do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-a", `{"body":"hello"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var v thread.View
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.AuthorID != "A" || v.Body != "hello" || v.ApprovalState != store.StatePending {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestSubmitComment_Errors(t *testing.T) {
	h := newTestRouter(t, newEngine(), nil)

	tests := []struct {
		name   string
		url    string
		token  string
		body   string
		status int
		code   string
	}{
		{"anonymous", "/v1/items/P1/comments", "", `{"body":"hi"}`, http.StatusUnauthorized, "AUTH_MISSING"},
		{"bad token", "/v1/items/P1/comments", "forged", `{"body":"hi"}`, http.StatusUnauthorized, "AUTH_INVALID"},
		{"bad json", "/v1/items/P1/comments", "tok-a", `{"body":`, http.StatusBadRequest, "INVALID_JSON"},
		{"empty body", "/v1/items/P1/comments", "tok-a", `{"body":"   "}`, http.StatusBadRequest, "BODY_EMPTY"},
		{"unknown item", "/v1/items/P9/comments", "tok-a", `{"body":"hi"}`, http.StatusNotFound, "NOT_FOUND"},
		{"unknown parent", "/v1/items/P1/comments", "tok-a", `{"body":"hi","parent_id":"nope"}`, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tt.url, tt.token, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestModerationFlow(t *testing.T) {
	h := newTestRouter(t, newEngine(), nil)

	rr := do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-a", `{"body":"hello"}`)
	var top thread.View
	_ = json.NewDecoder(rr.Body).Decode(&top)

	if page := decodePage(t, do(t, h, http.MethodGet, "/v1/items/P1/comments", "", "")); len(page.Nodes) != 0 {
		t.Fatalf("pending comment visible to anonymous: %+v", page.Nodes)
	}
	if page := decodePage(t, do(t, h, http.MethodGet, "/v1/items/P1/comments", "tok-a", "")); len(page.Nodes) != 1 {
		t.Fatalf("author should see own pending comment, got %d", len(page.Nodes))
	}

	if rr := do(t, h, http.MethodPost, "/v1/comments/"+top.ID+"/approve", "tok-b", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("user approve: expected 403, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/comments/"+top.ID+"/approve", "tok-mod", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("moderator approve: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/v1/comments/"+top.ID+"/reject", "tok-mod", ""); rr.Code != http.StatusConflict {
		t.Fatalf("reject approved: expected 409, got %d", rr.Code)
	}

	page := decodePage(t, do(t, h, http.MethodGet, "/v1/items/P1/comments", "", ""))
	if len(page.Nodes) != 1 || page.Nodes[0].ApprovalState != "" {
		t.Fatalf("anonymous should see approved comment without state, got %+v", page.Nodes)
	}

	rr = do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-b", `{"body":"reply","parent_id":"`+top.ID+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("reply: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var reply thread.View
	_ = json.NewDecoder(rr.Body).Decode(&reply)

	page = decodePage(t, do(t, h, http.MethodGet, "/v1/comments/"+top.ID+"/replies", "tok-b", ""))
	if len(page.Nodes) != 1 || page.Nodes[0].ID != reply.ID {
		t.Fatalf("reply author should see reply, got %+v", page.Nodes)
	}
	page = decodePage(t, do(t, h, http.MethodGet, "/v1/comments/"+top.ID+"/replies", "tok-a", ""))
	if len(page.Nodes) != 0 {
		t.Fatalf("pending reply leaked to parent author: %+v", page.Nodes)
	}

	if rr := do(t, h, http.MethodDelete, "/v1/comments/"+top.ID, "tok-b", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("non-author delete: expected 403, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/v1/comments/"+reply.ID, "tok-b", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("author delete: expected 204, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodDelete, "/v1/comments/"+reply.ID, "tok-b", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestListParams(t *testing.T) {
	h := newTestRouter(t, newEngine(), nil)
	for i := 0; i < 3; i++ {
		do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-mod", `{"body":"c"}`)
	}

	rr := do(t, h, http.MethodGet, "/v1/items/P1/comments?limit=2", "", "")
	page := decodePage(t, rr)
	if len(page.Nodes) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 nodes and a cursor, got %d, %q", len(page.Nodes), page.NextCursor)
	}
	page = decodePage(t, do(t, h, http.MethodGet, "/v1/items/P1/comments?limit=2&cursor="+page.NextCursor, "", ""))
	if len(page.Nodes) != 1 || page.NextCursor != "" {
		t.Fatalf("expected final node, got %d, %q", len(page.Nodes), page.NextCursor)
	}

	for url, code := range map[string]string{
		"/v1/items/P1/comments?limit=abc":     "INVALID_LIMIT",
		"/v1/items/P1/comments?limit=0":       "INVALID_LIMIT",
		"/v1/items/P1/comments?cursor=%21%21": "INVALID_CURSOR",
		"/v1/comments/x/replies?limit=-3":     "INVALID_LIMIT",
	} {
		rr := do(t, h, http.MethodGet, url, "", "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, rr.Code)
		}
		if got := errorCode(t, rr); got != code {
			t.Fatalf("%s: expected %s, got %s", url, code, got)
		}
	}

	if rr := do(t, h, http.MethodGet, "/v1/comments/missing/replies", "", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing parent: expected 404, got %d", rr.Code)
	}
}

func TestRateLimitedWrites(t *testing.T) {
	h := newTestRouter(t, newEngine(), NewRateLimiter(0.001, 1))

	if rr := do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-a", `{"body":"one"}`); rr.Code != http.StatusCreated {
		t.Fatalf("first: expected 201, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-a", `{"body":"two"}`); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second: expected 429, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v1/items/P1/comments", "tok-b", `{"body":"other user"}`); rr.Code != http.StatusCreated {
		t.Fatalf("other viewer: expected 201, got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/items/P1/comments", "tok-a", ""); rr.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", rr.Code)
	}
}

type failingThreads struct{ Threads }

func (failingThreads) ListTopLevel(context.Context, string, auth.Viewer, string, int) (thread.PageView, error) {
	return thread.PageView{}, errors.New("database is on fire")
}

func TestInternalErrorIsHidden(t *testing.T) {
	h := newTestRouter(t, failingThreads{}, nil)
	rr := do(t, h, http.MethodGet, "/v1/items/P1/comments", "", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("fire")) {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}
