package store

import (
	"context"
	"database/sql"
	"strings"
)

type TechnicianRoute struct {
	ID              int64  `json:"id"`
	TechnicianID    int64  `json:"technician_id"`
	ProductFamily   string `json:"product_family"`
	ServiceCenterID int64  `json:"service_center_id"`
}

type RoutesStore interface {
	ListRoutes(ctx context.Context) ([]TechnicianRoute, error)
	ListRoutesForTechnician(ctx context.Context, technicianID int64) ([]TechnicianRoute, error)
	AddRoute(ctx context.Context, route *TechnicianRoute) (int64, error)
	DeleteRoute(ctx context.Context, id int64) error
}

type routesStore struct {
	db *sql.DB
}

func NewRoutesStore(db *sql.DB) RoutesStore {
	return &routesStore{db: db}
}

func (s *routesStore) ListRoutes(ctx context.Context) ([]TechnicianRoute, error) {
	return s.list(ctx, ``, nil)
}

func (s *routesStore) ListRoutesForTechnician(ctx context.Context, technicianID int64) ([]TechnicianRoute, error) {
	return s.list(ctx, `WHERE technician_id=?`, []any{technicianID})
}

func (s *routesStore) list(ctx context.Context, where string, args []any) ([]TechnicianRoute, error) {
	query := `SELECT id, technician_id, product_family, service_center_id FROM technician_routes ` + where + ` ORDER BY technician_id ASC, product_family ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TechnicianRoute
	for rows.Next() {
		var r TechnicianRoute
		if err := rows.Scan(&r.ID, &r.TechnicianID, &r.ProductFamily, &r.ServiceCenterID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *routesStore) AddRoute(ctx context.Context, route *TechnicianRoute) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO technician_routes(technician_id, product_family, service_center_id)
		VALUES(?,?,?)`, route.TechnicianID, strings.TrimSpace(route.ProductFamily), route.ServiceCenterID)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	route.ID = id
	return id, nil
}

func (s *routesStore) DeleteRoute(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM technician_routes WHERE id=?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}
