package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

type PermissionOverride struct {
	UserID         int64     `json:"user_id"`
	PermissionCode string    `json:"permission_code"`
	Denied         bool      `json:"denied"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type PermissionsStore interface {
	ListOverrides(ctx context.Context, userID int64) ([]PermissionOverride, error)
	// UpsertOverride replaces any existing row for (user, code); later writes
	// win, so a grant and a denial for the same code cannot coexist.
	UpsertOverride(ctx context.Context, override *PermissionOverride) error
	DeleteOverride(ctx context.Context, userID int64, code string) error
}

type permissionsStore struct {
	db *sql.DB
}

func NewPermissionsStore(db *sql.DB) PermissionsStore {
	return &permissionsStore{db: db}
}

func (s *permissionsStore) ListOverrides(ctx context.Context, userID int64) ([]PermissionOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, permission_code, denied, updated_at
		FROM user_permission_overrides WHERE user_id=? ORDER BY permission_code ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PermissionOverride
	for rows.Next() {
		var o PermissionOverride
		var denied int
		if err := rows.Scan(&o.UserID, &o.PermissionCode, &denied, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Denied = denied != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *permissionsStore) UpsertOverride(ctx context.Context, override *PermissionOverride) error {
	code := strings.TrimSpace(override.PermissionCode)
	now := time.Now().UTC()
	override.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permission_overrides(user_id, permission_code, denied, updated_at)
		VALUES(?,?,?,?)
		ON CONFLICT(user_id, permission_code) DO UPDATE SET denied=excluded.denied, updated_at=excluded.updated_at`,
		override.UserID, code, boolToInt(override.Denied), now)
	return err
}

func (s *permissionsStore) DeleteOverride(ctx context.Context, userID int64, code string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permission_overrides WHERE user_id=? AND permission_code=?`,
		userID, strings.TrimSpace(code))
	return err
}
