package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ref identifies the resource a decision is about. ResourceID is empty for
// collection operations (search, create), where ownership never applies.
type Ref struct {
	ResourceType string
	ResourceID   string
}

// OwnershipSource answers "who owns this resource". Implementations must
// return only the owner identifier and never load the resource body; the
// engine consults it before the caller is cleared to see anything else.
type OwnershipSource interface {
	// OwnerID returns the owning client's identifier, or ErrNoOwner when the
	// resource does not exist or has no owner.
	OwnerID(ctx context.Context, ref Ref) (string, error)
}

// DelegationSource answers "is this guardian delegated for that client".
type DelegationSource interface {
	IsGuardianOf(ctx context.Context, guardianID, clientID string) (bool, error)
}

// ErrNoOwner signals a missing resource or one without an owner. The engine
// folds it into a generic denial so a denied caller cannot probe existence.
var ErrNoOwner = errors.New("resource has no owner")

// PGOwnershipSource resolves ownership from the database. Each resource type
// maps to the single query that projects its owner column and nothing else.
type PGOwnershipSource struct {
	pool *pgxpool.Pool
}

func NewPGOwnershipSource(pool *pgxpool.Pool) *PGOwnershipSource {
	return &PGOwnershipSource{pool: pool}
}

func (s *PGOwnershipSource) OwnerID(ctx context.Context, ref Ref) (string, error) {
	// Both owner columns are UUID keyed. A garbled id can never match a row,
	// so it resolves to no owner instead of a query encoding error.
	if _, err := uuid.Parse(ref.ResourceID); err != nil {
		return "", ErrNoOwner
	}

	var query string
	switch ref.ResourceType {
	case "Client":
		// A client owns its own demographic record.
		query = `SELECT id::text FROM clients WHERE id = $1 AND deleted_at IS NULL`
	case "ClinicalRecord":
		query = `SELECT client_id::text FROM clinical_records WHERE id = $1 AND deleted_at IS NULL`
	default:
		return "", ErrNoOwner
	}

	var ownerID string
	err := s.pool.QueryRow(ctx, query, ref.ResourceID).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoOwner
	}
	if err != nil {
		return "", fmt.Errorf("resolving owner of %s/%s: %w", ref.ResourceType, ref.ResourceID, err)
	}
	return ownerID, nil
}

// PGDelegationSource resolves guardian delegation from active guardian links.
type PGDelegationSource struct {
	pool *pgxpool.Pool
}

func NewPGDelegationSource(pool *pgxpool.Pool) *PGDelegationSource {
	return &PGDelegationSource{pool: pool}
}

func (s *PGDelegationSource) IsGuardianOf(ctx context.Context, guardianID, clientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM guardian_links
			WHERE guardian_id = $1 AND client_id = $2 AND revoked_at IS NULL
		)`, guardianID, clientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("resolving guardianship %s -> %s: %w", guardianID, clientID, err)
	}
	return exists, nil
}
