package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// PostgresStore persists registrations in the mcp_services table.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore over an open connection pool.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Upsert(ctx context.Context, reg *ServiceRegistration) error {
	tools, err := json.Marshal(reg.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_services (
			service_name, service_url, description, tools, layer, domain,
			is_active, registered_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (service_name) DO UPDATE SET
			service_url = EXCLUDED.service_url,
			description = EXCLUDED.description,
			tools       = EXCLUDED.tools,
			layer       = EXCLUDED.layer,
			domain      = EXCLUDED.domain,
			is_active   = EXCLUDED.is_active,
			updated_at  = now()
	`, reg.Name, reg.URL, reg.Description, tools, string(reg.Layer), reg.Domain,
		reg.Active, reg.RegisteredAt)
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", reg.Name, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*ServiceRegistration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service_name, service_url, description, tools, layer, domain,
		       is_active, registered_at
		FROM mcp_services
		WHERE service_name = $1
	`, name)

	reg, err := scanService(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", name, err)
	}
	return reg, nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_services WHERE service_name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("delete service %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) ListActive(ctx context.Context, layer Layer) ([]*ServiceRegistration, error) {
	query := `
		SELECT service_name, service_url, description, tools, layer, domain,
		       is_active, registered_at
		FROM mcp_services
		WHERE is_active
	`
	args := []any{}
	if layer != "" {
		query += ` AND layer = $1`
		args = append(args, string(layer))
	}
	query += ` ORDER BY service_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active services: %w", err)
	}
	defer rows.Close()

	var out []*ServiceRegistration
	for rows.Next() {
		reg, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM mcp_services WHERE is_active`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active services: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*ServiceRegistration, error) {
	var (
		reg          ServiceRegistration
		toolsJSON    []byte
		layer        string
		description  sql.NullString
		domain       sql.NullString
		registeredAt time.Time
	)
	if err := row.Scan(&reg.Name, &reg.URL, &description, &toolsJSON, &layer,
		&domain, &reg.Active, &registeredAt); err != nil {
		return nil, err
	}
	reg.Layer = Layer(layer)
	reg.Description = description.String
	reg.Domain = domain.String
	reg.RegisteredAt = registeredAt

	if len(toolsJSON) > 0 {
		if err := json.Unmarshal(toolsJSON, &reg.Tools); err != nil {
			return nil, fmt.Errorf("parse tools: %w", err)
		}
	}
	return &reg, nil
}
