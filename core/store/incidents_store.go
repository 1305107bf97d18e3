package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Incident struct {
	ID                   int64      `json:"id"`
	Code                 string     `json:"code"`
	State                string     `json:"state"`
	ProductFamily        string     `json:"product_family"`
	ServiceCenterID      int64      `json:"service_center_id"`
	AssignedTechnicianID *int64     `json:"assigned_technician_id,omitempty"`
	WantsShipping        bool       `json:"wants_shipping"`
	CreatedBy            int64      `json:"created_by"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	Version              int        `json:"version"`
}

type HistoryEntry struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	ActorID    int64     `json:"actor_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type Observation struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	ActorID    int64     `json:"actor_id"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

type IncidentFilter struct {
	State           string
	StateIn         []string
	ProductFamily   string
	ServiceCenterID int64
	AssignedTechID  int64
	Limit           int
	Offset          int
}

type IncidentsStore interface {
	CreateIncident(ctx context.Context, incident *Incident, codeFormat string) (int64, error)
	GetIncident(ctx context.Context, id int64) (*Incident, error)
	GetIncidentByCode(ctx context.Context, code string) (*Incident, error)
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)

	// UpdateIncidentState applies the transition with a compare-and-swap on
	// (id, fromState, expectedVersion) and appends the history row in the
	// same transaction. A CAS miss on a live incident returns ErrConflict.
	UpdateIncidentState(ctx context.Context, id int64, fromState, toState string, actorID int64, expectedVersion int) (*Incident, error)

	SetAssignedTechnician(ctx context.Context, id int64, technicianID *int64) error
	SetServiceCenter(ctx context.Context, id int64, centerID int64) error

	AddObservation(ctx context.Context, obs *Observation) (int64, error)
	ListObservations(ctx context.Context, incidentID int64) ([]Observation, error)
	ListHistory(ctx context.Context, incidentID int64) ([]HistoryEntry, error)
}

type incidentsStore struct {
	db *sql.DB
}

func NewIncidentsStore(db *sql.DB) IncidentsStore {
	return &incidentsStore{db: db}
}

func (s *incidentsStore) CreateIncident(ctx context.Context, incident *Incident, codeFormat string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if incident.Version <= 0 {
		incident.Version = 1
	}
	now := time.Now().UTC()
	incident.CreatedAt = now
	incident.UpdatedAt = now
	res, err := tx.ExecContext(ctx, `
		INSERT INTO incidents(code, state, product_family, service_center_id, assigned_technician_id, wants_shipping, created_by, created_at, updated_at, version)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		incident.Code, incident.State, incident.ProductFamily, incident.ServiceCenterID,
		nullableID(incident.AssignedTechnicianID), boolToInt(incident.WantsShipping),
		incident.CreatedBy, now, now, incident.Version)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, _ := res.LastInsertId()
	incident.ID = id
	if strings.TrimSpace(incident.Code) == "" {
		incident.Code = fmt.Sprintf(codeFormat, id)
		if _, err := tx.ExecContext(ctx, `UPDATE incidents SET code=? WHERE id=?`, incident.Code, id); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *incidentsStore) GetIncident(ctx context.Context, id int64) (*Incident, error) {
	return s.getIncidentBy(ctx, `id=?`, id)
}

func (s *incidentsStore) GetIncidentByCode(ctx context.Context, code string) (*Incident, error) {
	return s.getIncidentBy(ctx, `code=?`, strings.TrimSpace(code))
}

const incidentColumns = `id, code, state, product_family, service_center_id, assigned_technician_id, wants_shipping, created_by, created_at, updated_at, version`

func (s *incidentsStore) getIncidentBy(ctx context.Context, where string, arg any) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE `+where, arg)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var assigned sql.NullInt64
	var wantsShipping int
	if err := row.Scan(&inc.ID, &inc.Code, &inc.State, &inc.ProductFamily, &inc.ServiceCenterID,
		&assigned, &wantsShipping, &inc.CreatedBy, &inc.CreatedAt, &inc.UpdatedAt, &inc.Version); err != nil {
		return nil, err
	}
	if assigned.Valid {
		val := assigned.Int64
		inc.AssignedTechnicianID = &val
	}
	inc.WantsShipping = wantsShipping != 0
	return &inc, nil
}

func (s *incidentsStore) ListIncidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.State != "" {
		where = append(where, "state=?")
		args = append(args, filter.State)
	}
	if len(filter.StateIn) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.StateIn)), ",")
		where = append(where, "state IN ("+placeholders+")")
		for _, st := range filter.StateIn {
			args = append(args, st)
		}
	}
	if filter.ProductFamily != "" {
		where = append(where, "product_family=?")
		args = append(args, filter.ProductFamily)
	}
	if filter.ServiceCenterID > 0 {
		where = append(where, "service_center_id=?")
		args = append(args, filter.ServiceCenterID)
	}
	if filter.AssignedTechID > 0 {
		where = append(where, "assigned_technician_id=?")
		args = append(args, filter.AssignedTechID)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

func (s *incidentsStore) UpdateIncidentState(ctx context.Context, id int64, fromState, toState string, actorID int64, expectedVersion int) (*Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE incidents SET state=?, updated_at=?, version=version+1
		WHERE id=? AND state=? AND version=?`,
		toState, now, id, fromState, expectedVersion)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		tx.Rollback()
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM incidents WHERE id=?`, id).Scan(&exists); err == nil && exists == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO incident_history(incident_id, from_state, to_state, actor_id, created_at)
		VALUES(?,?,?,?,?)`, id, fromState, toState, actorID, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetIncident(ctx, id)
}

func (s *incidentsStore) SetAssignedTechnician(ctx context.Context, id int64, technicianID *int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET assigned_technician_id=?, updated_at=? WHERE id=?`,
		nullableID(technicianID), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *incidentsStore) SetServiceCenter(ctx context.Context, id int64, centerID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET service_center_id=?, updated_at=? WHERE id=?`,
		centerID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *incidentsStore) AddObservation(ctx context.Context, obs *Observation) (int64, error) {
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_observations(incident_id, actor_id, note, created_at)
		VALUES(?,?,?,?)`, obs.IncidentID, obs.ActorID, obs.Note, obs.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	obs.ID = id
	return id, nil
}

func (s *incidentsStore) ListObservations(ctx context.Context, incidentID int64) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, actor_id, note, created_at
		FROM incident_observations WHERE incident_id=? ORDER BY id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		var obs Observation
		if err := rows.Scan(&obs.ID, &obs.IncidentID, &obs.ActorID, &obs.Note, &obs.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

func (s *incidentsStore) ListHistory(ctx context.Context, incidentID int64) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, from_state, to_state, actor_id, created_at
		FROM incident_history WHERE incident_id=? ORDER BY id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.IncidentID, &h.FromState, &h.ToState, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
