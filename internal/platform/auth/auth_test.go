package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-32-bytes-long!!!")

func makeToken(subject, role string, exp time.Time) string {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := tok.SignedString(testSecret)
	return signed
}

func newVerifier() JWTVerifier { return JWTVerifier{Secret: testSecret} }

// ─── JWTVerifier tests ──────────────────────────────────────────────────────

func TestJWTVerifier_ValidToken(t *testing.T) {
	tok := makeToken("user-1", "user", time.Now().Add(time.Hour))
	claims, err := newVerifier().Parse(tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("expected subject 'user-1', got %q", claims.Subject)
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	tok := makeToken("user-1", "user", time.Now().Add(-time.Hour))
	if _, err := newVerifier().Parse(tok); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	tok := makeToken("user-1", "user", time.Now().Add(time.Hour))
	if _, err := (JWTVerifier{Secret: []byte("wrong-secret")}).Parse(tok); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestJWTVerifier_TamperedPayload(t *testing.T) {
	tok := makeToken("user-1", "moderator", time.Now().Add(time.Hour))
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatal("expected 3 JWT parts")
	}
	tampered := parts[0] + ".dGFtcGVyZWQ." + parts[2]
	if _, err := newVerifier().Parse(tampered); err == nil {
		t.Fatal("expected error for tampered token")
	}
}

func TestResolveViewer_Roles(t *testing.T) {
	cases := []struct {
		claim string
		want  Role
	}{
		{"user", RoleUser},
		{"", RoleUser},
		{"moderator", RoleModerator},
		{"ADMIN", RoleModerator},
		{"editor", RoleUser},
	}
	for _, tc := range cases {
		tok := makeToken("u-1", tc.claim, time.Now().Add(time.Hour))
		v, err := newVerifier().ResolveViewer(tok)
		if err != nil {
			t.Fatalf("claim %q: unexpected error: %v", tc.claim, err)
		}
		if v.Role != tc.want || v.ID != "u-1" {
			t.Fatalf("claim %q: expected role %q, got %+v", tc.claim, tc.want, v)
		}
	}
}

func TestResolveViewer_EmptyTokenIsAnonymous(t *testing.T) {
	v, err := newVerifier().ResolveViewer("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.IsAnonymous() {
		t.Fatalf("expected anonymous viewer, got %+v", v)
	}
}

func TestResolveViewer_MissingSubject(t *testing.T) {
	tok := makeToken("", "user", time.Now().Add(time.Hour))
	if _, err := newVerifier().ResolveViewer(tok); err == nil {
		t.Fatal("expected error for token without subject")
	}
}

func TestViewerFromContext_DefaultsToAnonymous(t *testing.T) {
	if v := ViewerFromContext(context.Background()); !v.IsAnonymous() {
		t.Fatalf("expected anonymous, got %+v", v)
	}
}

// ─── middleware tests ────────────────────────────────────────────────────────

func callResolve(req *http.Request) (*httptest.ResponseRecorder, Viewer) {
	var got Viewer
	rr := httptest.NewRecorder()
	ResolveViewer(newVerifier())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ViewerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr, got
}

func TestResolveViewerMiddleware_ValidBearer(t *testing.T) {
	tok := makeToken("user-42", "moderator", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr, v := callResolve(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if v.ID != "user-42" || !v.IsModerator() {
		t.Fatalf("unexpected viewer %+v", v)
	}
}

func TestResolveViewerMiddleware_MissingHeaderIsAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr, v := callResolve(req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !v.IsAnonymous() {
		t.Fatalf("expected anonymous viewer, got %+v", v)
	}
}

func TestResolveViewerMiddleware_NonBearerScheme(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr, _ := callResolve(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestResolveViewerMiddleware_ExpiredToken(t *testing.T) {
	tok := makeToken("user-1", "user", time.Now().Add(-time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr, _ := callResolve(req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func callGuard(guard func(http.Handler) http.Handler, v Viewer) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithViewer(req.Context(), v))
	rr := httptest.NewRecorder()
	guard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rr, req)
	return rr
}

func TestRequireUser(t *testing.T) {
	if rr := callGuard(RequireUser, Anonymous()); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous, got %d", rr.Code)
	}
	if rr := callGuard(RequireUser, Viewer{ID: "u-1", Role: RoleUser}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for user, got %d", rr.Code)
	}
}

func TestRequireModerator(t *testing.T) {
	if rr := callGuard(RequireModerator, Anonymous()); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous, got %d", rr.Code)
	}
	if rr := callGuard(RequireModerator, Viewer{ID: "u-1", Role: RoleUser}); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user, got %d", rr.Code)
	}
	if rr := callGuard(RequireModerator, Viewer{ID: "m-1", Role: RoleModerator}); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for moderator, got %d", rr.Code)
	}
}
