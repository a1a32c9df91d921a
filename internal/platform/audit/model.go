package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// retentionYears is the minimum regulatory retention period for audit entries.
const retentionYears = 7

// Entry is one immutable audit-trail record. Entries are written once and
// never updated or deleted; RetentionExpiry marks the earliest date the entry
// may be purged by an out-of-band retention job.
type Entry struct {
	ID              uuid.UUID      `json:"id"`
	ActorID         string         `json:"actor_id"`
	ActorRole       string         `json:"actor_role"`
	Action          string         `json:"action"`
	ResourceType    string         `json:"resource_type"`
	ResourceID      string         `json:"resource_id,omitempty"`
	PHIAccessed     bool           `json:"phi_accessed"`
	Outcome         Outcome        `json:"outcome"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	DurationMs      int64          `json:"duration_ms"`
	RequestID       string         `json:"request_id,omitempty"`
	SourceIP        string         `json:"source_ip,omitempty"`
	Snapshot        map[string]any `json:"snapshot,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
	RetentionExpiry time.Time      `json:"retention_expiry"`
}

// NewEntry stamps identity, occurrence time, and the retention horizon.
func NewEntry(actorID, actorRole, action, resourceType string) *Entry {
	now := time.Now().UTC()
	return &Entry{
		ID:              uuid.New(),
		ActorID:         actorID,
		ActorRole:       actorRole,
		Action:          action,
		ResourceType:    resourceType,
		OccurredAt:      now,
		RetentionExpiry: now.AddDate(retentionYears, 0, 0),
	}
}
