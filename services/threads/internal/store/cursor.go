package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is the decoded keyset position (created_at, id) of the last row a
// caller has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// EncodeCursor produces the opaque token for the position of c.
func EncodeCursor(c Comment) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. The empty string
// decodes to a nil cursor (start of scope).
func DecodeCursor(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: malformed token", ErrInvalidCursor)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// After reports whether c sorts strictly after the cursor position.
func (cur *Cursor) After(c Comment) bool {
	if cur == nil {
		return true
	}
	if !c.CreatedAt.Equal(cur.CreatedAt) {
		return c.CreatedAt.After(cur.CreatedAt)
	}
	return c.ID > cur.ID
}
