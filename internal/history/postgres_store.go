package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresCaseStore persists cases in the historical_cases table.
type PostgresCaseStore struct {
	db *sql.DB
}

// NewPostgresCaseStore creates a store over an open connection pool.
func NewPostgresCaseStore(db *sql.DB) *PostgresCaseStore {
	return &PostgresCaseStore{db: db}
}

func (s *PostgresCaseStore) Append(ctx context.Context, c *Case) error {
	params, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO historical_cases (
			id, request_id, user_id, question, tool_name, parameters,
			risk_score, decision, outcome, feedback, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.RequestID, c.UserID, c.Question, c.ToolName, params,
		c.RiskScore, string(c.Decision), string(c.Outcome), c.Feedback, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("append case %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresCaseStore) GetByIDs(ctx context.Context, ids []string) ([]*Case, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, user_id, question, tool_name, parameters,
		       risk_score, decision, outcome, feedback, created_at
		FROM historical_cases
		WHERE id = ANY($1)
	`, idArray(ids))
	if err != nil {
		return nil, fmt.Errorf("get cases: %w", err)
	}
	defer rows.Close()
	return scanCases(rows)
}

func (s *PostgresCaseStore) ListByUser(ctx context.Context, userID, toolName string, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, request_id, user_id, question, tool_name, parameters,
		       risk_score, decision, outcome, feedback, created_at
		FROM historical_cases
		WHERE user_id = $1
	`
	args := []any{userID}
	if toolName != "" {
		query += ` AND tool_name = $2`
		args = append(args, toolName)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanCases(rows)
}

func scanCases(rows *sql.Rows) ([]*Case, error) {
	var out []*Case
	for rows.Next() {
		var (
			c          Case
			paramsJSON []byte
			decision   string
			outcome    string
			feedback   sql.NullString
			createdAt  time.Time
		)
		if err := rows.Scan(&c.ID, &c.RequestID, &c.UserID, &c.Question, &c.ToolName,
			&paramsJSON, &c.RiskScore, &decision, &outcome, &feedback, &createdAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Decision = Decision(decision)
		c.Outcome = Outcome(outcome)
		c.Feedback = feedback.String
		c.CreatedAt = createdAt
		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &c.Params); err != nil {
				return nil, fmt.Errorf("parse case params: %w", err)
			}
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// idArray renders ids as a Postgres text array literal for ANY($1).
func idArray(ids []string) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out + "}"
}
