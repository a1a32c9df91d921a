package audit

import (
	"context"
	"time"
)

// Query filters an audit-trail listing. Zero-value fields are not applied.
type Query struct {
	ActorID      string
	ResourceType string
	ResourceID   string
	PHIOnly      bool
	Outcome      Outcome
	From         time.Time
	To           time.Time

	// Cursor is the opaque page token from a previous page, empty for the
	// first page.
	Cursor string
	Limit  int
}

// Page is one page of audit entries, newest first. NextCursor is empty when
// no further entries exist.
type Page struct {
	Entries    []*Entry
	NextCursor string
}

// Store is the append-only audit persistence capability. There is no update
// or delete: the trail only grows, and retention enforcement happens outside
// this interface.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Search(ctx context.Context, q Query) (*Page, error)
}
