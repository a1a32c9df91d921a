package record

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

const recordCols = `id, client_id, kind, title, notes_ciphertext, revision,
	created_by, created_at, updated_at, deleted_at`

func (r *repoPG) scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.ClientID, &rec.Kind, &rec.Title, &rec.NotesCiphertext,
		&rec.Revision, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt)
	return &rec, err
}

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_records (id, client_id, kind, title, notes_ciphertext, revision, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.ClientID, rec.Kind, rec.Title, rec.NotesCiphertext, rec.Revision, rec.CreatedBy)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	return r.scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM clinical_records WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *repoPG) Update(ctx context.Context, rec *Record) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinical_records
		SET kind=$2, title=$3, notes_ciphertext=$4, revision=$5, updated_at=NOW()
		WHERE id = $1 AND revision = $5 - 1 AND deleted_at IS NULL`,
		rec.ID, rec.Kind, rec.Title, rec.NotesCiphertext, rec.Revision)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *repoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE clinical_records SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *repoPG) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM clinical_records WHERE client_id = $1 AND deleted_at IS NULL`,
		clientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM clinical_records
		 WHERE client_id = $1 AND deleted_at IS NULL
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, clientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Record
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *repoPG) AddRevision(ctx context.Context, rev *Revision) error {
	if rev.ID == uuid.Nil {
		rev.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO clinical_record_revisions (id, record_id, revision, notes_ciphertext, edited_by)
		VALUES ($1,$2,$3,$4,$5)`,
		rev.ID, rev.RecordID, rev.Revision, rev.NotesCiphertext, rev.EditedBy)
	return err
}

func (r *repoPG) ListRevisions(ctx context.Context, recordID uuid.UUID) ([]*Revision, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, record_id, revision, notes_ciphertext, edited_by, created_at
		FROM clinical_record_revisions WHERE record_id = $1 ORDER BY revision DESC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var revs []*Revision
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.RecordID, &rev.Revision, &rev.NotesCiphertext,
			&rev.EditedBy, &rev.CreatedAt); err != nil {
			return nil, err
		}
		revs = append(revs, &rev)
	}
	return revs, rows.Err()
}
