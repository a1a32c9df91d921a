package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPageSize = 50
const maxPageSize = 200

// PGStore persists audit entries in PostgreSQL. Writes always run on the
// pool, never inside a caller's transaction: a rolled-back business operation
// must still leave its audit trail behind.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	var snapshot []byte
	if entry.Snapshot != nil {
		var err error
		snapshot, err = json.Marshal(entry.Snapshot)
		if err != nil {
			return fmt.Errorf("marshaling audit snapshot: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_entries (
			id, actor_id, actor_role, action, resource_type, resource_id,
			phi_accessed, outcome, failure_reason, duration_ms,
			request_id, source_ip, snapshot, occurred_at, retention_expiry
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		entry.ID, entry.ActorID, entry.ActorRole, entry.Action,
		entry.ResourceType, nullable(entry.ResourceID),
		entry.PHIAccessed, string(entry.Outcome), nullable(entry.FailureReason),
		entry.DurationMs, nullable(entry.RequestID), nullable(entry.SourceIP),
		snapshot, entry.OccurredAt, entry.RetentionExpiry,
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, q Query) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ActorID != "" {
		conds = append(conds, "actor_id = "+arg(q.ActorID))
	}
	if q.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(q.ResourceType))
	}
	if q.ResourceID != "" {
		conds = append(conds, "resource_id = "+arg(q.ResourceID))
	}
	if q.PHIOnly {
		conds = append(conds, "phi_accessed = TRUE")
	}
	if q.Outcome != "" {
		conds = append(conds, "outcome = "+arg(string(q.Outcome)))
	}
	if !q.From.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "occurred_at <= "+arg(q.To))
	}
	if q.Cursor != "" {
		cur, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		conds = append(conds, fmt.Sprintf("(occurred_at, id) < (%s, %s)", arg(cur.OccurredAt), arg(cur.ID)))
	}

	sql := `
		SELECT id, actor_id, actor_role, action, resource_type,
		       COALESCE(resource_id, ''), phi_accessed, outcome,
		       COALESCE(failure_reason, ''), duration_ms,
		       COALESCE(request_id, ''), COALESCE(source_ip, ''),
		       snapshot, occurred_at, retention_expiry
		FROM audit_entries`
	if len(conds) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	// Fetch one extra row to learn whether another page exists.
	sql += fmt.Sprintf("\n\t\tORDER BY occurred_at DESC, id DESC\n\t\tLIMIT %d", limit+1)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		var (
			e        Entry
			outcome  string
			snapshot []byte
		)
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.ResourceType,
			&e.ResourceID, &e.PHIAccessed, &outcome, &e.FailureReason,
			&e.DurationMs, &e.RequestID, &e.SourceIP,
			&snapshot, &e.OccurredAt, &e.RetentionExpiry,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Outcome = Outcome(outcome)
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
				return nil, fmt.Errorf("unmarshaling audit snapshot: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	page := &Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = encodeCursor(cursor{OccurredAt: last.OccurredAt, ID: last.ID})
	}
	return page, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
