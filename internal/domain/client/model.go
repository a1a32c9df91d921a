package client

import (
	"time"

	"github.com/google/uuid"
)

// Client maps to the clients table. The SSN is never stored in the clear:
// SSNCiphertext holds the encrypted value and SSNHash the keyed digest used
// for exact-match lookup. SSN itself is a transient request field.
type Client struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	FirstName string     `db:"first_name" json:"first_name"`
	LastName  string     `db:"last_name" json:"last_name"`
	BirthDate *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Email     *string    `db:"email" json:"email,omitempty"`
	Phone     *string    `db:"phone" json:"phone,omitempty"`

	SSN           string `db:"-" json:"ssn,omitempty"`
	SSNCiphertext string `db:"ssn_ciphertext" json:"-"`
	SSNHash       string `db:"ssn_hash" json:"-"`
	SSNLast4      string `db:"ssn_last4" json:"-"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// View is the outward representation of a client. The SSN appears masked;
// the full value is only reachable through the dedicated reveal operation.
type View struct {
	ID        uuid.UUID  `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Email     *string    `json:"email,omitempty"`
	Phone     *string    `json:"phone,omitempty"`
	SSNMasked string     `json:"ssn_masked,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GuardianLink maps to the guardian_links table. An active link delegates a
// ward's record access to the guardian; revocation is a timestamp, never a
// row deletion, so past delegation remains reconstructible.
type GuardianLink struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	GuardianID   string     `db:"guardian_id" json:"guardian_id"`
	ClientID     uuid.UUID  `db:"client_id" json:"client_id"`
	Relationship string     `db:"relationship" json:"relationship"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Active reports whether the delegation is currently in force.
func (g *GuardianLink) Active() bool {
	return g.RevokedAt == nil
}
