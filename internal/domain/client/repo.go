package client

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for clients and guardian links.
type Repository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	Update(ctx context.Context, c *Client) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Client, int, error)
	FindBySSNHash(ctx context.Context, hash string) (*Client, error)

	// Guardian links
	LinkGuardian(ctx context.Context, link *GuardianLink) error
	RevokeGuardianLink(ctx context.Context, linkID uuid.UUID) error
	ListGuardianLinks(ctx context.Context, clientID uuid.UUID) ([]*GuardianLink, error)
}
