package client

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge/carebridge/internal/platform/errs"
	"github.com/carebridge/carebridge/internal/platform/hipaa"
)

var ssnPattern = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)

const uniqueViolation = "23505"

// Service provides business logic for the client domain. It owns the PHI
// handling discipline: the SSN is encrypted and hashed on the way in, masked
// on the way out, and decrypted only by the explicit reveal operation.
type Service struct {
	repo   Repository
	cipher *hipaa.Cipher
}

// NewService creates a new client domain service.
func NewService(repo Repository, cipher *hipaa.Cipher) *Service {
	return &Service{repo: repo, cipher: cipher}
}

func (s *Service) Create(ctx context.Context, c *Client) (*View, error) {
	if err := s.validate(c); err != nil {
		return nil, err
	}
	if err := s.sealSSN(ctx, c); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, translateDBError(err)
	}
	return s.view(c), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, translateDBError(err)
	}
	return s.view(c), nil
}

func (s *Service) Update(ctx context.Context, c *Client) (*View, error) {
	existing, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return nil, translateDBError(err)
	}

	if err := s.validate(c); err != nil {
		return nil, err
	}
	if c.SSN != "" {
		if err := s.sealSSN(ctx, c); err != nil {
			return nil, err
		}
	} else {
		c.SSNCiphertext = existing.SSNCiphertext
		c.SSNHash = existing.SSNHash
		c.SSNLast4 = existing.SSNLast4
	}

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, translateDBError(err)
	}
	return s.Get(ctx, c.ID)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return translateDBError(err)
	}
	return translateDBError(s.repo.SoftDelete(ctx, id))
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*View, int, error) {
	items, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, translateDBError(err)
	}
	views := make([]*View, len(items))
	for i, c := range items {
		views[i] = s.view(c)
	}
	return views, total, nil
}

// FindBySSN locates a client by exact SSN match via the keyed hash. The
// plaintext SSN is hashed and discarded; it never reaches the repository.
func (s *Service) FindBySSN(ctx context.Context, ssn string) (*View, error) {
	if !ssnPattern.MatchString(ssn) {
		return nil, errs.Validation("ssn must match NNN-NN-NNNN", map[string]string{"ssn": "invalid format"})
	}
	c, err := s.repo.FindBySSNHash(ctx, s.cipher.Hash(ssn))
	if err != nil {
		return nil, translateDBError(err)
	}
	return s.view(c), nil
}

// RevealSSN decrypts and returns the full SSN. Exposed only on a dedicated
// operation so the audit trail distinguishes reveals from ordinary reads.
func (s *Service) RevealSSN(ctx context.Context, id uuid.UUID) (string, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", translateDBError(err)
	}
	if c.SSNCiphertext == "" {
		return "", errs.NotFound("ssn")
	}
	ssn, err := s.cipher.Decrypt(ctx, c.SSNCiphertext)
	if err != nil {
		return "", err
	}
	return ssn, nil
}

func (s *Service) LinkGuardian(ctx context.Context, link *GuardianLink) error {
	if link.GuardianID == "" {
		return errs.Validation("guardian_id is required", map[string]string{"guardian_id": "required"})
	}
	if link.ClientID == uuid.Nil {
		return errs.Validation("client_id is required", map[string]string{"client_id": "required"})
	}
	if link.Relationship == "" {
		return errs.Validation("relationship is required", map[string]string{"relationship": "required"})
	}
	if _, err := s.repo.GetByID(ctx, link.ClientID); err != nil {
		return translateDBError(err)
	}
	return translateDBError(s.repo.LinkGuardian(ctx, link))
}

func (s *Service) RevokeGuardianLink(ctx context.Context, linkID uuid.UUID) error {
	return translateDBError(s.repo.RevokeGuardianLink(ctx, linkID))
}

func (s *Service) ListGuardianLinks(ctx context.Context, clientID uuid.UUID) ([]*GuardianLink, error) {
	if _, err := s.repo.GetByID(ctx, clientID); err != nil {
		return nil, translateDBError(err)
	}
	links, err := s.repo.ListGuardianLinks(ctx, clientID)
	if err != nil {
		return nil, translateDBError(err)
	}
	return links, nil
}

func (s *Service) validate(c *Client) error {
	details := map[string]string{}
	if c.FirstName == "" {
		details["first_name"] = "required"
	}
	if c.LastName == "" {
		details["last_name"] = "required"
	}
	if c.SSN != "" && !ssnPattern.MatchString(c.SSN) {
		details["ssn"] = "must match NNN-NN-NNNN"
	}
	if len(details) > 0 {
		return errs.Validation("invalid client", details)
	}
	return nil
}

// sealSSN encrypts and hashes the transient SSN, then clears the plaintext.
func (s *Service) sealSSN(ctx context.Context, c *Client) error {
	if c.SSN == "" {
		return nil
	}
	ct, err := s.cipher.Encrypt(ctx, c.SSN)
	if err != nil {
		return err
	}
	c.SSNCiphertext = ct
	c.SSNHash = s.cipher.Hash(c.SSN)
	c.SSNLast4 = c.SSN[len(c.SSN)-4:]
	c.SSN = ""
	return nil
}

func (s *Service) view(c *Client) *View {
	v := &View{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		BirthDate: c.BirthDate,
		Email:     c.Email,
		Phone:     c.Phone,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.SSNCiphertext != "" {
		v.SSNMasked = hipaa.MaskSSN(c.SSNLast4)
	}
	return v
}

func translateDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound("client")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errs.Conflict("a client with this SSN already exists")
	}
	return errs.Internal(err)
}
