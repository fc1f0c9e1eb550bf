package auth

import (
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/example/nonprofit-platform/internal/platform/api"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Resolver turns a raw bearer token into a Viewer.
type Resolver interface {
	ResolveViewer(token string) (Viewer, error)
}

type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ResolveViewer implements Resolver. An empty token resolves to an anonymous viewer.
func (v JWTVerifier) ResolveViewer(token string) (Viewer, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Anonymous(), nil
	}
	claims, err := v.Parse(token)
	if err != nil {
		return Viewer{}, err
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return Viewer{}, ErrInvalidToken
	}
	return Viewer{ID: sub, Role: ParseRole(claims.Role)}, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." value.
// An empty header yields ErrMissingToken.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// ResolveViewer middleware injects the request viewer into the context. Requests
// without credentials continue as anonymous; bad credentials are rejected.
func ResolveViewer(resolver Resolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := BearerToken(r.Header.Get("Authorization"))
			if errors.Is(err, ErrMissingToken) {
				next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), Anonymous())))
				return
			}
			if err != nil {
				api.Unauthorized(w, "AUTH_INVALID", "invalid authorization header", "")
				return
			}
			viewer, err := resolver.ResolveViewer(tok)
			if err != nil {
				api.Unauthorized(w, "AUTH_INVALID", "invalid or expired token", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
		})
	}
}

// RequireUser rejects anonymous viewers. Must run after ResolveViewer.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ViewerFromContext(r.Context()).IsAnonymous() {
			api.Unauthorized(w, "AUTH_MISSING", "authentication required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireModerator allows the request only for moderators. Must run after ResolveViewer.
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := ViewerFromContext(r.Context())
		if v.IsAnonymous() {
			api.Unauthorized(w, "AUTH_MISSING", "authentication required", "")
			return
		}
		if !v.IsModerator() {
			api.Forbidden(w, "FORBIDDEN", "moderator role required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
