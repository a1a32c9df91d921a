package record

import (
	"time"

	"github.com/google/uuid"
)

// Kinds of clinical record tracked by the service.
const (
	KindProgressNote  = "progress_note"
	KindAssessment    = "assessment"
	KindTreatmentPlan = "treatment_plan"
)

// Record maps to the clinical_records table. Notes are the PHI payload:
// envelope-encrypted at rest, transient in the Notes field on the way in, and
// only decrypted for single-record reads.
type Record struct {
	ID       uuid.UUID `db:"id" json:"id"`
	ClientID uuid.UUID `db:"client_id" json:"client_id"`
	Kind     string    `db:"kind" json:"kind"`
	Title    string    `db:"title" json:"title"`

	Notes           string `db:"-" json:"notes,omitempty"`
	NotesCiphertext string `db:"notes_ciphertext" json:"-"`

	Revision  int        `db:"revision" json:"revision"`
	CreatedBy string     `db:"created_by" json:"created_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"-"`
}

// Revision maps to the clinical_record_revisions table. Every write to a
// record appends the ciphertext it produced, so the note history is complete
// even though only the head row is served.
type Revision struct {
	ID              uuid.UUID `db:"id" json:"id"`
	RecordID        uuid.UUID `db:"record_id" json:"record_id"`
	Revision        int       `db:"revision" json:"revision"`
	NotesCiphertext string    `db:"notes_ciphertext" json:"-"`
	EditedBy        string    `db:"edited_by" json:"edited_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// View is the outward representation. Notes carries decrypted content for
// single-record reads and is empty in listings.
type View struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Notes     string    `json:"notes,omitempty"`
	Revision  int       `json:"revision"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
