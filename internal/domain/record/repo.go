package record

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for clinical records and their revisions.
// Create and Update expect to run inside a caller-managed transaction so the
// head row and its revision commit together.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Update(ctx context.Context, r *Record) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Record, int, error)

	AddRevision(ctx context.Context, rev *Revision) error
	ListRevisions(ctx context.Context, recordID uuid.UUID) ([]*Revision, error)
}
