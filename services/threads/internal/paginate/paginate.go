// Package paginate produces per-viewer pages of one thread scope on top of the
// store's raw keyset pages.
package paginate

import (
	"context"

	"github.com/example/nonprofit-platform/internal/platform/auth"
	"github.com/example/nonprofit-platform/services/threads/internal/moderation"
	"github.com/example/nonprofit-platform/services/threads/internal/store"
)

// DefaultBatchRows is the raw row count read per store call when the page
// itself is smaller.
const DefaultBatchRows = 100

// Scope is one independently paginated level of a thread.
type Scope struct {
	ContentItemID string
	ParentID      *string
}

// TopLevel is the scope of comments without a parent on item.
func TopLevel(contentItemID string) Scope {
	return Scope{ContentItemID: contentItemID}
}

// RepliesOf is the scope of direct replies to parent.
func RepliesOf(parent store.Comment) Scope {
	id := parent.ID
	return Scope{ContentItemID: parent.ContentItemID, ParentID: &id}
}

// Page is one page of visible nodes. NextCursor is empty when the scope has
// no further visible node.
type Page struct {
	Nodes      []store.Comment
	NextCursor string
}

type Paginator struct {
	Store store.Reader
	// BatchRows is the minimum number of raw rows read per store call.
	// Larger batches cut round trips through runs of hidden rows.
	BatchRows int
}

// Page returns up to limit nodes of scope visible to v, starting after cursor.
//
// Raw rows are read in batches and filtered through the moderation gate until
// limit visible nodes plus one visible look-ahead are found or the store is
// exhausted. A non-empty NextCursor therefore always has a visible node behind
// it, and it points at the last returned node so concurrent inserts are
// neither skipped nor repeated.
func (p *Paginator) Page(ctx context.Context, scope Scope, v auth.Viewer, cursor string, limit int) (Page, error) {
	if _, err := store.DecodeCursor(cursor); err != nil {
		return Page{}, err
	}
	if limit <= 0 {
		limit = 1
	}
	batch := p.BatchRows
	if batch <= 0 {
		batch = DefaultBatchRows
	}
	if batch < limit+1 {
		batch = limit + 1
	}

	nodes := make([]store.Comment, 0, limit)
	raw := cursor
	for {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		rows, next, err := p.Store.ListChildren(ctx, store.ListQuery{
			ContentItemID: scope.ContentItemID,
			ParentID:      scope.ParentID,
			Cursor:        raw,
			Limit:         batch,
		})
		if err != nil {
			return Page{}, err
		}
		for _, c := range rows {
			if !moderation.Visible(c, v) {
				continue
			}
			if len(nodes) == limit {
				return Page{Nodes: nodes, NextCursor: store.EncodeCursor(nodes[len(nodes)-1])}, nil
			}
			nodes = append(nodes, c)
		}
		if next == "" {
			return Page{Nodes: nodes}, nil
		}
		raw = next
	}
}
