package auditevent

import (
	"context"
	"errors"
	"time"

	"github.com/carebridge/carebridge/internal/platform/audit"
	"github.com/carebridge/carebridge/internal/platform/errs"
)

// Service exposes the read-only audit trail surface. There is deliberately no
// write path here: entries are produced by the mediation layer only, and the
// store accepts nothing but appends.
type Service struct {
	store audit.Store
}

// NewService creates a new audit query service.
func NewService(store audit.Store) *Service {
	return &Service{store: store}
}

// Filter is the external query shape, translated to the store query.
type Filter struct {
	ActorID      string
	ResourceType string
	ResourceID   string
	PHIOnly      bool
	Outcome      string
	From         string
	To           string
	Cursor       string
	Limit        int
}

// Search pages through audit entries, newest first.
func (s *Service) Search(ctx context.Context, f Filter) (*audit.Page, error) {
	q := audit.Query{
		ActorID:      f.ActorID,
		ResourceType: f.ResourceType,
		ResourceID:   f.ResourceID,
		PHIOnly:      f.PHIOnly,
		Cursor:       f.Cursor,
		Limit:        f.Limit,
	}

	switch f.Outcome {
	case "":
	case string(audit.OutcomeSuccess), string(audit.OutcomeFailure):
		q.Outcome = audit.Outcome(f.Outcome)
	default:
		return nil, errs.Validation("invalid outcome", map[string]string{"outcome": "must be success or failure"})
	}

	var err error
	if q.From, err = parseTime(f.From, "from"); err != nil {
		return nil, err
	}
	if q.To, err = parseTime(f.To, "to"); err != nil {
		return nil, err
	}

	page, err := s.store.Search(ctx, q)
	if err != nil {
		if errors.Is(err, audit.ErrBadCursor) {
			return nil, errs.Validation("invalid cursor", map[string]string{"cursor": "malformed page token"})
		}
		return nil, errs.Internal(err)
	}
	return page, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errs.Validation("invalid time filter", map[string]string{field: "must be RFC 3339"})
	}
	return t, nil
}
