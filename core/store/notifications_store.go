package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type NotificationRecord struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	Tier       int       `json:"tier"`
	SentAt     time.Time `json:"sent_at"`
	Responded  bool      `json:"responded"`
}

type TierCounts struct {
	Tier0 int `json:"tier0"`
	Tier1 int `json:"tier1"`
	Tier2 int `json:"tier2"`
	Tier3 int `json:"tier3"`
}

type NotificationsStore interface {
	AddNotification(ctx context.Context, rec *NotificationRecord) (int64, error)
	// LatestForIncident returns the highest-tier record, nil when none exist.
	LatestForIncident(ctx context.Context, incidentID int64) (*NotificationRecord, error)
	MarkResponded(ctx context.Context, incidentID int64) error
	SetMandatoryCall(ctx context.Context, incidentID int64) error
	MandatoryCall(ctx context.Context, incidentID int64) (bool, error)
	// ListUnresponded returns the latest unresponded record per incident for
	// incidents currently in one of the given states.
	ListUnresponded(ctx context.Context, states []string) ([]NotificationRecord, error)
	CountsByTier(ctx context.Context, states []string) (TierCounts, error)
}

type notificationsStore struct {
	db *sql.DB
}

func NewNotificationsStore(db *sql.DB) NotificationsStore {
	return &notificationsStore{db: db}
}

func (s *notificationsStore) AddNotification(ctx context.Context, rec *NotificationRecord) (int64, error) {
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_records(incident_id, tier, sent_at, responded)
		VALUES(?,?,?,0)`, rec.IncidentID, rec.Tier, rec.SentAt)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	rec.ID = id
	return id, nil
}

func (s *notificationsStore) LatestForIncident(ctx context.Context, incidentID int64) (*NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, tier, sent_at, responded
		FROM notification_records WHERE incident_id=?
		ORDER BY tier DESC, id DESC LIMIT 1`, incidentID)
	var rec NotificationRecord
	var responded int
	err := row.Scan(&rec.ID, &rec.IncidentID, &rec.Tier, &rec.SentAt, &responded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Responded = responded != 0
	return &rec, nil
}

func (s *notificationsStore) MarkResponded(ctx context.Context, incidentID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_records SET responded=1
		WHERE id=(SELECT id FROM notification_records WHERE incident_id=? ORDER BY tier DESC, id DESC LIMIT 1)`,
		incidentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *notificationsStore) SetMandatoryCall(ctx context.Context, incidentID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_escalation_flags(incident_id, mandatory_call) VALUES(?,1)
		ON CONFLICT(incident_id) DO UPDATE SET mandatory_call=1`, incidentID)
	return err
}

func (s *notificationsStore) MandatoryCall(ctx context.Context, incidentID int64) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `
		SELECT mandatory_call FROM incident_escalation_flags WHERE incident_id=?`, incidentID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag != 0, nil
}

func (s *notificationsStore) ListUnresponded(ctx context.Context, states []string) ([]NotificationRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, 0, len(states))
	for _, st := range states {
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.incident_id, n.tier, n.sent_at, n.responded
		FROM notification_records n
		JOIN incidents i ON i.id = n.incident_id
		WHERE i.state IN (`+placeholders+`)
		  AND n.responded = 0
		  AND n.tier = (SELECT MAX(tier) FROM notification_records WHERE incident_id = n.incident_id)
		ORDER BY n.incident_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		var responded int
		if err := rows.Scan(&rec.ID, &rec.IncidentID, &rec.Tier, &rec.SentAt, &responded); err != nil {
			return nil, err
		}
		rec.Responded = responded != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *notificationsStore) CountsByTier(ctx context.Context, states []string) (TierCounts, error) {
	var counts TierCounts
	if len(states) == 0 {
		return counts, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, 0, len(states))
	for _, st := range states {
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(t.max_tier, 0) AS tier, COUNT(1)
		FROM incidents i
		LEFT JOIN (
			SELECT incident_id, MAX(tier) AS max_tier
			FROM notification_records GROUP BY incident_id
		) t ON t.incident_id = i.id
		WHERE i.state IN (`+placeholders+`)
		GROUP BY COALESCE(t.max_tier, 0)`, args...)
	if err != nil {
		return counts, err
	}
	defer rows.Close()
	for rows.Next() {
		var tier, n int
		if err := rows.Scan(&tier, &n); err != nil {
			return counts, err
		}
		switch tier {
		case 0:
			counts.Tier0 = n
		case 1:
			counts.Tier1 = n
		case 2:
			counts.Tier2 = n
		case 3:
			counts.Tier3 = n
		}
	}
	return counts, rows.Err()
}
