package confirm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
)

// PostgresStore persists confirmation records in the confirmations
// table. Transition relies on a conditional UPDATE so racing callers
// on the same request id resolve to exactly one winner.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO confirmations (
			request_id, user_id, question, tool_name, service_name, params,
			risk_score, risk_level, message, state, feedback, auto_approved,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, rec.RequestID, rec.UserID, rec.Question, rec.ToolName, rec.ServiceName,
		params, rec.RiskScore, rec.RiskLevel, rec.Message, string(rec.State),
		rec.Feedback, rec.AutoApproved, rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return apierror.Conflict("confirmation record %s already exists", rec.RequestID)
		}
		return fmt.Errorf("insert confirmation %s: %w", rec.RequestID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, user_id, question, tool_name, service_name, params,
		       risk_score, risk_level, message, state, feedback, auto_approved,
		       created_at, updated_at
		FROM confirmations
		WHERE request_id = $1
	`, requestID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get confirmation %s: %w", requestID, err)
	}
	return rec, nil
}

func (s *PostgresStore) Transition(ctx context.Context, requestID string, from []State, to State, feedback string) (*Record, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE confirmations
		SET state = $1,
		    feedback = CASE WHEN $2 <> '' THEN $2 ELSE feedback END,
		    updated_at = now()
		WHERE request_id = $3 AND state = ANY($4)
		RETURNING request_id, user_id, question, tool_name, service_name, params,
		          risk_score, risk_level, message, state, feedback, auto_approved,
		          created_at, updated_at
	`, string(to), feedback, requestID, stateArray(states))

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		// Distinguish an unknown id from a record in the wrong state.
		existing, gerr := s.Get(ctx, requestID)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, apierror.NotFound("no confirmation record for request %s", requestID)
		}
		return nil, apierror.Conflict("request %s is already %s", requestID, existing.State)
	}
	if err != nil {
		return nil, fmt.Errorf("transition confirmation %s: %w", requestID, err)
	}
	return rec, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, user_id, question, tool_name, service_name, params,
		       risk_score, risk_level, message, state, feedback, auto_approved,
		       created_at, updated_at
		FROM confirmations
		WHERE state = $1 AND created_at < $2
	`, string(StatePending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale confirmations: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec    Record
		params []byte
		state  string
	)
	err := row.Scan(&rec.RequestID, &rec.UserID, &rec.Question, &rec.ToolName,
		&rec.ServiceName, &params, &rec.RiskScore, &rec.RiskLevel, &rec.Message,
		&state, &rec.Feedback, &rec.AutoApproved, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	rec.State = State(state)
	return &rec, nil
}

// stateArray renders states as a Postgres text array literal for ANY($3).
func stateArray(states []string) string {
	return "{" + strings.Join(states, ",") + "}"
}
