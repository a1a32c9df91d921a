package record

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/db"
	"github.com/carebridge/carebridge/internal/platform/errs"
	"github.com/carebridge/carebridge/internal/platform/hipaa"
)

var validKinds = map[string]struct{}{
	KindProgressNote:  {},
	KindAssessment:    {},
	KindTreatmentPlan: {},
}

// Service provides business logic for clinical records. Note content goes
// through the envelope encryption path; the head row and its revision are
// written in one transaction so history can never diverge from the record.
type Service struct {
	repo   Repository
	cipher *hipaa.Cipher
	runTx  func(ctx context.Context, fn func(ctx context.Context) error) error
}

// NewService creates a new clinical record service.
func NewService(repo Repository, pool *pgxpool.Pool, cipher *hipaa.Cipher) *Service {
	return &Service{
		repo:   repo,
		cipher: cipher,
		runTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.RunInTx(ctx, pool, fn)
		},
	}
}

func (s *Service) Create(ctx context.Context, rec *Record) (*View, error) {
	if err := s.validate(rec); err != nil {
		return nil, err
	}

	actor := auth.ActorFromContext(ctx)
	if actor != nil {
		rec.CreatedBy = actor.ID
	}

	notes := rec.Notes
	ct, err := s.cipher.EncryptBulk(ctx, notes)
	if err != nil {
		return nil, err
	}
	rec.NotesCiphertext = ct
	rec.Notes = ""
	rec.Revision = 1

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, rec); err != nil {
			return err
		}
		return s.repo.AddRevision(ctx, &Revision{
			RecordID:        rec.ID,
			Revision:        rec.Revision,
			NotesCiphertext: rec.NotesCiphertext,
			EditedBy:        rec.CreatedBy,
		})
	})
	if err != nil {
		return nil, translateDBError(err)
	}

	v := s.view(rec)
	v.Notes = notes
	return v, nil
}

// Get returns the record with its notes decrypted.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translateDBError(err)
	}
	notes, err := s.cipher.Decrypt(ctx, rec.NotesCiphertext)
	if err != nil {
		return nil, err
	}
	v := s.view(rec)
	v.Notes = notes
	return v, nil
}

func (s *Service) Update(ctx context.Context, rec *Record) (*View, error) {
	existing, err := s.repo.GetByID(ctx, rec.ID)
	if err != nil {
		return nil, translateDBError(err)
	}
	if rec.Kind == "" {
		rec.Kind = existing.Kind
	}
	if rec.Title == "" {
		rec.Title = existing.Title
	}
	if err := s.validate(rec); err != nil {
		return nil, err
	}

	notes := rec.Notes
	if notes != "" {
		ct, err := s.cipher.EncryptBulk(ctx, notes)
		if err != nil {
			return nil, err
		}
		rec.NotesCiphertext = ct
	} else {
		rec.NotesCiphertext = existing.NotesCiphertext
	}
	rec.Notes = ""
	rec.ClientID = existing.ClientID
	rec.Revision = existing.Revision + 1

	var editedBy string
	if actor := auth.ActorFromContext(ctx); actor != nil {
		editedBy = actor.ID
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Update(ctx, rec); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.Conflict("record was modified concurrently")
			}
			return err
		}
		return s.repo.AddRevision(ctx, &Revision{
			RecordID:        rec.ID,
			Revision:        rec.Revision,
			NotesCiphertext: rec.NotesCiphertext,
			EditedBy:        editedBy,
		})
	})
	if err != nil {
		return nil, translateDBError(err)
	}
	return s.Get(ctx, rec.ID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return translateDBError(err)
	}
	return translateDBError(s.repo.SoftDelete(ctx, id))
}

// ListByClient returns record metadata for a client. Notes stay encrypted;
// listings never decrypt.
func (s *Service) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*View, int, error) {
	items, total, err := s.repo.ListByClient(ctx, clientID, limit, offset)
	if err != nil {
		return nil, 0, translateDBError(err)
	}
	views := make([]*View, len(items))
	for i, rec := range items {
		views[i] = s.view(rec)
	}
	return views, total, nil
}

// History lists revision metadata for a record, newest first, without
// decrypting any revision content.
func (s *Service) History(ctx context.Context, recordID uuid.UUID) ([]*Revision, error) {
	if _, err := s.repo.GetByID(ctx, recordID); err != nil {
		return nil, translateDBError(err)
	}
	revs, err := s.repo.ListRevisions(ctx, recordID)
	if err != nil {
		return nil, translateDBError(err)
	}
	return revs, nil
}

func (s *Service) validate(rec *Record) error {
	details := map[string]string{}
	if rec.ClientID == uuid.Nil {
		details["client_id"] = "required"
	}
	if _, ok := validKinds[rec.Kind]; !ok {
		details["kind"] = "must be progress_note, assessment, or treatment_plan"
	}
	if rec.Title == "" {
		details["title"] = "required"
	}
	if len(details) > 0 {
		return errs.Validation("invalid clinical record", details)
	}
	return nil
}

func (s *Service) view(rec *Record) *View {
	return &View{
		ID:        rec.ID,
		ClientID:  rec.ClientID,
		Kind:      rec.Kind,
		Title:     rec.Title,
		Revision:  rec.Revision,
		CreatedBy: rec.CreatedBy,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
}

func translateDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound("clinical record")
	}
	if _, ok := err.(*errs.Error); ok {
		return err
	}
	return errs.Internal(err)
}
