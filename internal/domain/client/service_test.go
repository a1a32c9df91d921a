package client

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge/carebridge/internal/platform/errs"
	"github.com/carebridge/carebridge/internal/platform/hipaa"
)

type fakeRepo struct {
	clients map[uuid.UUID]*Client
	links   map[uuid.UUID]*GuardianLink

	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		clients: make(map[uuid.UUID]*Client),
		links:   make(map[uuid.UUID]*GuardianLink),
	}
}

func (f *fakeRepo) Create(ctx context.Context, c *Client) error {
	if f.createErr != nil {
		return f.createErr
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	f.clients[c.ID] = &cp
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	c, ok := f.clients[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) Update(ctx context.Context, c *Client) error {
	if _, ok := f.clients[c.ID]; !ok {
		return pgx.ErrNoRows
	}
	cp := *c
	f.clients[c.ID] = &cp
	return nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	if _, ok := f.clients[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(f.clients, id)
	return nil
}

func (f *fakeRepo) List(ctx context.Context, limit, offset int) ([]*Client, int, error) {
	var out []*Client
	for _, c := range f.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (f *fakeRepo) FindBySSNHash(ctx context.Context, hash string) (*Client, error) {
	for _, c := range f.clients {
		if c.SSNHash == hash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeRepo) LinkGuardian(ctx context.Context, link *GuardianLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	cp := *link
	f.links[link.ID] = &cp
	return nil
}

func (f *fakeRepo) RevokeGuardianLink(ctx context.Context, linkID uuid.UUID) error {
	if _, ok := f.links[linkID]; !ok {
		return pgx.ErrNoRows
	}
	return nil
}

func (f *fakeRepo) ListGuardianLinks(ctx context.Context, clientID uuid.UUID) ([]*GuardianLink, error) {
	var out []*GuardianLink
	for _, l := range f.links {
		if l.ClientID == clientID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func testService(t *testing.T) (*Service, *fakeRepo, *hipaa.Cipher) {
	t.Helper()
	keys, err := hipaa.NewLocalKeyService(bytes.Repeat([]byte{0x01}, 32))
	if err != nil {
		t.Fatalf("NewLocalKeyService: %v", err)
	}
	cipher, err := hipaa.NewCipher(keys, []byte("client-test-secret"))
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	repo := newFakeRepo()
	return NewService(repo, cipher), repo, cipher
}

func TestService_CreateSealsSSN(t *testing.T) {
	s, repo, cipher := testService(t)
	ctx := context.Background()

	v, err := s.Create(ctx, &Client{
		FirstName: "Jane",
		LastName:  "Doe",
		SSN:       "123-45-6789",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if v.SSNMasked != "****6789" {
		t.Errorf("SSNMasked = %q, want ****6789", v.SSNMasked)
	}

	stored := repo.clients[v.ID]
	if stored.SSN != "" {
		t.Error("plaintext SSN persisted")
	}
	if stored.SSNCiphertext == "" || strings.Contains(stored.SSNCiphertext, "6789") {
		t.Errorf("SSNCiphertext = %q", stored.SSNCiphertext)
	}
	if stored.SSNHash != cipher.Hash("123-45-6789") {
		t.Error("SSNHash does not match the keyed digest")
	}

	plain, err := cipher.Decrypt(ctx, stored.SSNCiphertext)
	if err != nil || plain != "123-45-6789" {
		t.Errorf("stored ciphertext round trip: %q, %v", plain, err)
	}
}

func TestService_CreateWithoutSSN(t *testing.T) {
	s, repo, _ := testService(t)

	v, err := s.Create(context.Background(), &Client{FirstName: "Sam", LastName: "Lee"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.SSNMasked != "" {
		t.Errorf("SSNMasked = %q, want empty", v.SSNMasked)
	}
	if repo.clients[v.ID].SSNCiphertext != "" {
		t.Error("unexpected ciphertext for client without SSN")
	}
}

func TestService_CreateValidation(t *testing.T) {
	s, _, _ := testService(t)

	_, err := s.Create(context.Background(), &Client{SSN: "12345"})
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	e := errs.AsError(err)
	for _, field := range []string{"first_name", "last_name", "ssn"} {
		if _, ok := e.Details[field]; !ok {
			t.Errorf("missing detail for %q: %v", field, e.Details)
		}
	}
}

func TestService_FindBySSN(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &Client{FirstName: "Jane", LastName: "Doe", SSN: "123-45-6789"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	found, err := s.FindBySSN(ctx, "123-45-6789")
	if err != nil {
		t.Fatalf("FindBySSN: %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("found %s, want %s", found.ID, created.ID)
	}

	if _, err := s.FindBySSN(ctx, "999-99-9999"); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := s.FindBySSN(ctx, "not an ssn"); errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestService_RevealSSN(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, _ := s.Create(ctx, &Client{FirstName: "Jane", LastName: "Doe", SSN: "123-45-6789"})

	ssn, err := s.RevealSSN(ctx, created.ID)
	if err != nil {
		t.Fatalf("RevealSSN: %v", err)
	}
	if ssn != "123-45-6789" {
		t.Errorf("RevealSSN = %q", ssn)
	}

	noSSN, _ := s.Create(ctx, &Client{FirstName: "Sam", LastName: "Lee"})
	if _, err := s.RevealSSN(ctx, noSSN.ID); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("expected not found for client without SSN, got %v", err)
	}
}

func TestService_UpdatePreservesSealedSSN(t *testing.T) {
	s, repo, _ := testService(t)
	ctx := context.Background()

	created, _ := s.Create(ctx, &Client{FirstName: "Jane", LastName: "Doe", SSN: "123-45-6789"})
	before := *repo.clients[created.ID]

	v, err := s.Update(ctx, &Client{ID: created.ID, FirstName: "Janet", LastName: "Doe"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if v.FirstName != "Janet" {
		t.Errorf("FirstName = %q", v.FirstName)
	}
	if v.SSNMasked != "****6789" {
		t.Errorf("SSNMasked = %q after update without SSN", v.SSNMasked)
	}

	after := repo.clients[created.ID]
	if after.SSNCiphertext != before.SSNCiphertext || after.SSNHash != before.SSNHash {
		t.Error("sealed SSN changed on an update that did not resupply it")
	}
}

func TestService_DuplicateSSNConflict(t *testing.T) {
	s, repo, _ := testService(t)

	repo.createErr = &pgconn.PgError{Code: "23505"}
	_, err := s.Create(context.Background(), &Client{FirstName: "Jane", LastName: "Doe", SSN: "123-45-6789"})
	if errs.KindOf(err) != errs.KindConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestService_GetMissing(t *testing.T) {
	s, _, _ := testService(t)
	if _, err := s.Get(context.Background(), uuid.New()); errs.KindOf(err) != errs.KindNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_LinkGuardian(t *testing.T) {
	s, _, _ := testService(t)
	ctx := context.Background()

	created, _ := s.Create(ctx, &Client{FirstName: "Kid", LastName: "Doe"})

	link := &GuardianLink{GuardianID: "g-1", ClientID: created.ID, Relationship: "parent"}
	if err := s.LinkGuardian(ctx, link); err != nil {
		t.Fatalf("LinkGuardian: %v", err)
	}

	links, err := s.ListGuardianLinks(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListGuardianLinks: %v", err)
	}
	if len(links) != 1 || links[0].GuardianID != "g-1" {
		t.Errorf("links = %+v", links)
	}
	if !links[0].Active() {
		t.Error("fresh link should be active")
	}

	t.Run("validation", func(t *testing.T) {
		err := s.LinkGuardian(ctx, &GuardianLink{ClientID: created.ID})
		if errs.KindOf(err) != errs.KindValidation {
			t.Errorf("expected validation error, got %v", err)
		}
	})
	t.Run("missing client", func(t *testing.T) {
		err := s.LinkGuardian(ctx, &GuardianLink{GuardianID: "g-1", ClientID: uuid.New(), Relationship: "parent"})
		if errs.KindOf(err) != errs.KindNotFound {
			t.Errorf("expected not found, got %v", err)
		}
	})
}
