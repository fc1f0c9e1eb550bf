package auth

import (
	"context"
	"strings"
)

// Role is the coarse permission level of a viewer as seen by the thread engine.
type Role string

const (
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
)

// Viewer is the resolved identity of whoever is making a request.
// The zero value is an anonymous viewer.
type Viewer struct {
	ID   string `json:"id,omitempty"`
	Role Role   `json:"role"`
}

// Anonymous returns the viewer used when no credentials were presented.
func Anonymous() Viewer { return Viewer{Role: RoleAnonymous} }

func (v Viewer) IsAnonymous() bool {
	return v.ID == "" || v.Role == RoleAnonymous || v.Role == ""
}

func (v Viewer) IsModerator() bool {
	return !v.IsAnonymous() && v.Role == RoleModerator
}

// ParseRole maps a token role claim onto an engine role. Platform admins moderate.
func ParseRole(claim string) Role {
	switch strings.ToLower(strings.TrimSpace(claim)) {
	case "moderator", "admin":
		return RoleModerator
	default:
		return RoleUser
	}
}

type ctxKeyViewer struct{}

// WithViewer stores v in ctx. Also used by tests to bypass token parsing.
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, ctxKeyViewer{}, v)
}

// ViewerFromContext returns the viewer injected by the auth middleware, or an
// anonymous viewer when none was injected.
func ViewerFromContext(ctx context.Context) Viewer {
	v, ok := ctx.Value(ctxKeyViewer{}).(Viewer)
	if !ok {
		return Anonymous()
	}
	return v
}
