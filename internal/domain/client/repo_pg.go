package client

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/carebridge/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const clientCols = `id, first_name, last_name, birth_date, email, phone,
	ssn_ciphertext, ssn_hash, ssn_last4, created_at, updated_at, deleted_at`

func (r *repoPG) scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.BirthDate, &c.Email, &c.Phone,
		&c.SSNCiphertext, &c.SSNHash, &c.SSNLast4, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clients (id, first_name, last_name, birth_date, email, phone,
			ssn_ciphertext, ssn_hash, ssn_last4)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.FirstName, c.LastName, c.BirthDate, c.Email, c.Phone,
		c.SSNCiphertext, c.SSNHash, c.SSNLast4)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	return r.scanClient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+clientCols+` FROM clients WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Client) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE clients SET first_name=$2, last_name=$3, birth_date=$4, email=$5, phone=$6,
			ssn_ciphertext=$7, ssn_hash=$8, ssn_last4=$9, updated_at=NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		c.ID, c.FirstName, c.LastName, c.BirthDate, c.Email, c.Phone,
		c.SSNCiphertext, c.SSNHash, c.SSNLast4)
	return err
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE clients SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Client, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clients WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+clientCols+` FROM clients WHERE deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Client
	for rows.Next() {
		c, err := r.scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) FindBySSNHash(ctx context.Context, hash string) (*Client, error) {
	return r.scanClient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+clientCols+` FROM clients WHERE ssn_hash = $1 AND deleted_at IS NULL`, hash))
}

func (r *repoPG) LinkGuardian(ctx context.Context, link *GuardianLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO guardian_links (id, guardian_id, client_id, relationship)
		VALUES ($1,$2,$3,$4)`,
		link.ID, link.GuardianID, link.ClientID, link.Relationship)
	return err
}

func (r *repoPG) RevokeGuardianLink(ctx context.Context, linkID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE guardian_links SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, linkID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) ListGuardianLinks(ctx context.Context, clientID uuid.UUID) ([]*GuardianLink, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, guardian_id, client_id, relationship, created_at, revoked_at
		FROM guardian_links WHERE client_id = $1 ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []*GuardianLink
	for rows.Next() {
		var l GuardianLink
		if err := rows.Scan(&l.ID, &l.GuardianID, &l.ClientID, &l.Relationship,
			&l.CreatedAt, &l.RevokedAt); err != nil {
			return nil, err
		}
		links = append(links, &l)
	}
	return links, rows.Err()
}
