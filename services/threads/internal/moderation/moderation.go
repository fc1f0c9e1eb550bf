// Package moderation decides, per viewer, which comments may be shown and how
// much of their moderation state is revealed. It is the only place this policy
// lives; every function is pure.
package moderation

import (
	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/services/threads/internal/store"
)

// Visible reports whether v may see c in a listing. Tombstones are never
// listed. Approved comments are public; authors always see their own
// comments and moderators see everything.
func Visible(c store.Comment, v auth.Viewer) bool {
	if c.IsDeleted() {
		return false
	}
	if c.ApprovalState == store.StateApproved {
		return true
	}
	return isAuthor(c, v) || v.IsModerator()
}

// CanSeeTrueState reports whether the approval state of c is disclosed to v.
func CanSeeTrueState(c store.Comment, v auth.Viewer) bool {
	return isAuthor(c, v) || v.IsModerator()
}

// CanSeeTotals reports whether v may see total_reply_count, which includes
// children still awaiting moderation.
func CanSeeTotals(v auth.Viewer) bool {
	return v.IsModerator()
}

// InitialState is the approval state of a comment written by v.
func InitialState(v auth.Viewer) store.ApprovalState {
	if v.IsModerator() {
		return store.StateApproved
	}
	return store.StatePending
}

// CanRemove reports whether v may soft-delete c.
func CanRemove(c store.Comment, v auth.Viewer) bool {
	return isAuthor(c, v) || v.IsModerator()
}

// CanModerate reports whether v may approve or reject comments.
func CanModerate(v auth.Viewer) bool {
	return v.IsModerator()
}

func isAuthor(c store.Comment, v auth.Viewer) bool {
	return !v.IsAnonymous() && c.AuthorID == v.ID
}
