package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type AuditEntry struct {
	ID            int64          `json:"id"`
	Table         string         `json:"table"`
	RecordID      int64          `json:"record_id"`
	Action        string         `json:"action"`
	ActorID       int64          `json:"actor_id"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	ChangedFields []string       `json:"changed_fields"`
	CreatedAt     time.Time      `json:"created_at"`
}

type AuditFilter struct {
	Table   string
	ActorID int64
	Action  string
	From    time.Time
	To      time.Time
	AfterID int64
	Limit   int
}

type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) (int64, error)
	Get(ctx context.Context, id int64) (*AuditEntry, error)
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type auditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Append(ctx context.Context, entry *AuditEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	before, err := snapshotJSON(entry.Before)
	if err != nil {
		return 0, err
	}
	after, err := snapshotJSON(entry.After)
	if err != nil {
		return 0, err
	}
	changed := entry.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log(entity_table, record_id, action, actor_id, before_json, after_json, changed_fields, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		entry.Table, entry.RecordID, entry.Action, entry.ActorID, before, after, string(changedJSON), entry.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	entry.ID = id
	return id, nil
}

func (s *auditStore) Get(ctx context.Context, id int64) (*AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, entity_table, record_id, action, actor_id, before_json, after_json, changed_fields, created_at
		FROM audit_log WHERE id=?`, id)
	entry, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *auditStore) Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.Table != "" {
		where = append(where, "entity_table=?")
		args = append(args, filter.Table)
	}
	if filter.ActorID > 0 {
		where = append(where, "actor_id=?")
		args = append(args, filter.ActorID)
	}
	if filter.Action != "" {
		where = append(where, "action=?")
		args = append(args, filter.Action)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}
	if filter.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}
	query := `SELECT id, entity_table, record_id, action, actor_id, before_json, after_json, changed_fields, created_at
		FROM audit_log WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	query += " LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	var entry AuditEntry
	var before, after, changed string
	if err := row.Scan(&entry.ID, &entry.Table, &entry.RecordID, &entry.Action, &entry.ActorID,
		&before, &after, &changed, &entry.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(before), &entry.Before); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(after), &entry.After); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(changed), &entry.ChangedFields); err != nil {
		return nil, err
	}
	return &entry, nil
}

func snapshotJSON(snapshot map[string]any) (string, error) {
	if snapshot == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
