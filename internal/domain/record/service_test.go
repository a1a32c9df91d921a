package record

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/errs"
	"github.com/carebridge/carebridge/internal/platform/hipaa"
)

type fakeRepo struct {
	records   map[uuid.UUID]*Record
	revisions []*Revision

	updateErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[uuid.UUID]*Record)}
}

func (f *fakeRepo) Create(ctx context.Context, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	f.records[r.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

// Update mirrors the optimistic-lock predicate: the row is only touched when
// the stored revision is exactly one behind the incoming one.
func (f *fakeRepo) Update(ctx context.Context, r *Record) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.records[r.ID]
	if !ok || stored.Revision != r.Revision-1 {
		return pgx.ErrNoRows
	}
	cp := *r
	f.records[r.ID] = &cp
	return nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.records[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.records, id)
	return nil
}

func (f *fakeRepo) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var out []*Record
	for _, r := range f.records {
		if r.ClientID == clientID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (f *fakeRepo) AddRevision(ctx context.Context, rev *Revision) error {
	cp := *rev
	f.revisions = append(f.revisions, &cp)
	return nil
}

func (f *fakeRepo) ListRevisions(ctx context.Context, recordID uuid.UUID) ([]*Revision, error) {
	var out []*Revision
	for _, rev := range f.revisions {
		if rev.RecordID == recordID {
			cp := *rev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func testService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	keys, err := hipaa.NewLocalKeyService(bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("NewLocalKeyService: %v", err)
	}
	cipher, err := hipaa.NewCipher(keys, []byte("record-test-secret"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	repo := newFakeRepo()
	s := NewService(repo, nil, cipher)
	s.runTx = func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
	return s, repo
}

func actorCtx(id string) context.Context {
	return auth.ContextWithActor(context.Background(), &auth.Actor{
		ID:       id,
		Role:     auth.RoleProvider,
		Category: auth.CategoryServiceProvider,
	})
}

func TestService_Create(t *testing.T) {
	s, repo := testService(t)
	ctx := actorCtx("provider-1")

	v, err := s.Create(ctx, &Record{
		ClientID: uuid.New(),
		Kind:     KindProgressNote,
		Title:    "Intake session",
		Notes:    "Client presented with mild anxiety.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if v.Revision != 1 {
		t.Errorf("Revision = %d, want 1", v.Revision)
	}
	if v.Notes != "Client presented with mild anxiety." {
		t.Errorf("Notes = %q", v.Notes)
	}
	if v.CreatedBy != "provider-1" {
		t.Errorf("CreatedBy = %q", v.CreatedBy)
	}

	stored := repo.records[v.ID]
	if stored.Notes != "" {
		t.Error("plaintext notes persisted")
	}
	if !strings.HasPrefix(stored.NotesCiphertext, "env.") {
		t.Errorf("NotesCiphertext = %q, want envelope form", stored.NotesCiphertext[:10])
	}

	revs, _ := repo.ListRevisions(context.Background(), v.ID)
	if len(revs) != 1 || revs[0].Revision != 1 {
		t.Fatalf("revisions = %+v, want one at revision 1", revs)
	}
	if revs[0].NotesCiphertext != stored.NotesCiphertext {
		t.Error("revision ciphertext differs from head row")
	}
}

func TestService_CreateValidation(t *testing.T) {
	s, _ := testService(t)

	_, err := s.Create(context.Background(), &Record{Kind: "diary"})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	e := errs.AsError(err)
	for _, field := range []string{"client_id", "kind", "title"} {
		if _, ok := e.Details[field]; !ok {
			t.Errorf("missing detail for %q: %v", field, e.Details)
		}
	}
}

func TestService_GetDecrypts(t *testing.T) {
	s, _ := testService(t)
	ctx := actorCtx("provider-1")

	created, err := s.Create(ctx, &Record{
		ClientID: uuid.New(),
		Kind:     KindAssessment,
		Title:    "Quarterly assessment",
		Notes:    "Marked improvement since last quarter.",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Notes != "Marked improvement since last quarter." {
		t.Errorf("Notes = %q", got.Notes)
	}
}

func TestService_UpdateIncrementsRevision(t *testing.T) {
	s, repo := testService(t)
	ctx := actorCtx("provider-1")

	created, _ := s.Create(ctx, &Record{
		ClientID: uuid.New(),
		Kind:     KindProgressNote,
		Title:    "Session 1",
		Notes:    "first version",
	})

	updated, err := s.Update(actorCtx("provider-2"), &Record{
		ID:    created.ID,
		Kind:  KindProgressNote,
		Title: "Session 1",
		Notes: "second version",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Revision != 2 {
		t.Errorf("Revision = %d, want 2", updated.Revision)
	}
	if updated.Notes != "second version" {
		t.Errorf("Notes = %q", updated.Notes)
	}

	revs, _ := repo.ListRevisions(context.Background(), created.ID)
	if len(revs) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revs))
	}
	if revs[1].EditedBy != "provider-2" {
		t.Errorf("EditedBy = %q", revs[1].EditedBy)
	}
}

func TestService_UpdateConflictOnStaleRevision(t *testing.T) {
	s, repo := testService(t)
	ctx := actorCtx("provider-1")

	created, _ := s.Create(ctx, &Record{
		ClientID: uuid.New(),
		Kind:     KindProgressNote,
		Title:    "Session 1",
		Notes:    "original",
	})

	// Another writer lands between this caller's read and its guarded
	// update, so the revision predicate matches no row.
	repo.updateErr = pgx.ErrNoRows

	_, err := s.Update(ctx, &Record{ID: created.ID, Notes: "stale write"})
	if errs.KindOf(err) != errs.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_UpdateKeepsNotesWhenNotResupplied(t *testing.T) {
	s, _ := testService(t)
	ctx := actorCtx("provider-1")

	created, _ := s.Create(ctx, &Record{
		ClientID: uuid.New(),
		Kind:     KindProgressNote,
		Title:    "Session 1",
		Notes:    "keep me",
	})

	updated, err := s.Update(ctx, &Record{ID: created.ID, Title: "Session 1 (amended)"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Notes != "keep me" {
		t.Errorf("Notes = %q, want preserved content", updated.Notes)
	}
}

func TestService_ListDoesNotDecrypt(t *testing.T) {
	s, _ := testService(t)
	ctx := actorCtx("provider-1")
	clientID := uuid.New()

	for _, title := range []string{"a", "b"} {
		if _, err := s.Create(ctx, &Record{
			ClientID: clientID,
			Kind:     KindProgressNote,
			Title:    title,
			Notes:    "do not show in listings",
		}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	views, total, err := s.ListByClient(ctx, clientID, 50, 0)
	if err != nil {
		t.Fatalf("ListByClient: %v", err)
	}
	if total != 2 || len(views) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(views))
	}
	for _, v := range views {
		if v.Notes != "" {
			t.Errorf("listing leaked notes: %q", v.Notes)
		}
	}
}

func TestService_History(t *testing.T) {
	s, _ := testService(t)
	ctx := actorCtx("provider-1")

	created, _ := s.Create(ctx, &Record{
		ClientID: uuid.New(),
		Kind:     KindTreatmentPlan,
		Title:    "Plan",
		Notes:    "v1",
	})
	if _, err := s.Update(ctx, &Record{ID: created.ID, Notes: "v2"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	revs, err := s.History(ctx, created.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revs))
	}

	if _, err := s.History(ctx, uuid.New()); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_DeleteMissing(t *testing.T) {
	s, _ := testService(t)
	if err := s.Delete(context.Background(), uuid.New()); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}
