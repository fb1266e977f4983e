package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
)

// UserPreference tunes gating per user. The zero RiskThreshold means
// the global confirmation threshold applies.
type UserPreference struct {
	UserID           string   `json:"user_id"`
	RiskThreshold    float64  `json:"risk_threshold,omitempty"`
	AutoConfirmTools []string `json:"auto_confirm_tools,omitempty"`
	BlockedTools     []string `json:"blocked_tools,omitempty"`

	// Approval-rate counters, updated on terminal records.
	TotalDecisions    int `json:"total_decisions"`
	ApprovedDecisions int `json:"approved_decisions"`
}

func (p *UserPreference) autoConfirms(tool string) bool {
	for _, t := range p.AutoConfirmTools {
		if t == tool {
			return true
		}
	}
	return false
}

func (p *UserPreference) blocks(tool string) bool {
	for _, t := range p.BlockedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// PreferenceStore persists per-user gating preferences.
type PreferenceStore interface {
	// Get returns nil when the user has no stored preference.
	Get(ctx context.Context, userID string) (*UserPreference, error)
	Upsert(ctx context.Context, pref *UserPreference) error
}

// MemoryPreferenceStore is an in-process PreferenceStore.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]*UserPreference
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]*UserPreference)}
}

func (s *MemoryPreferenceStore) Get(_ context.Context, userID string) (*UserPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pref, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *pref
	return &cp, nil
}

func (s *MemoryPreferenceStore) Upsert(_ context.Context, pref *UserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pref
	s.prefs[pref.UserID] = &cp
	return nil
}

// PostgresPreferenceStore persists preferences in the user_preferences
// table, with the tool lists as JSONB.
type PostgresPreferenceStore struct {
	db *sql.DB
}

func NewPostgresPreferenceStore(db *sql.DB) *PostgresPreferenceStore {
	return &PostgresPreferenceStore{db: db}
}

func (s *PostgresPreferenceStore) Get(ctx context.Context, userID string) (*UserPreference, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, risk_threshold, auto_confirm_tools, blocked_tools,
		       total_decisions, approved_decisions
		FROM user_preferences
		WHERE user_id = $1
	`, userID)

	var (
		pref        UserPreference
		autoConfirm []byte
		blocked     []byte
	)
	err := row.Scan(&pref.UserID, &pref.RiskThreshold, &autoConfirm, &blocked,
		&pref.TotalDecisions, &pref.ApprovedDecisions)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference %s: %w", userID, err)
	}
	if len(autoConfirm) > 0 {
		if err := json.Unmarshal(autoConfirm, &pref.AutoConfirmTools); err != nil {
			return nil, fmt.Errorf("unmarshal auto_confirm_tools: %w", err)
		}
	}
	if len(blocked) > 0 {
		if err := json.Unmarshal(blocked, &pref.BlockedTools); err != nil {
			return nil, fmt.Errorf("unmarshal blocked_tools: %w", err)
		}
	}
	return &pref, nil
}

func (s *PostgresPreferenceStore) Upsert(ctx context.Context, pref *UserPreference) error {
	autoConfirm, err := json.Marshal(pref.AutoConfirmTools)
	if err != nil {
		return fmt.Errorf("marshal auto_confirm_tools: %w", err)
	}
	blocked, err := json.Marshal(pref.BlockedTools)
	if err != nil {
		return fmt.Errorf("marshal blocked_tools: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (
			user_id, risk_threshold, auto_confirm_tools, blocked_tools,
			total_decisions, approved_decisions, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			risk_threshold     = EXCLUDED.risk_threshold,
			auto_confirm_tools = EXCLUDED.auto_confirm_tools,
			blocked_tools      = EXCLUDED.blocked_tools,
			total_decisions    = EXCLUDED.total_decisions,
			approved_decisions = EXCLUDED.approved_decisions,
			updated_at         = now()
	`, pref.UserID, pref.RiskThreshold, autoConfirm, blocked,
		pref.TotalDecisions, pref.ApprovedDecisions)
	if err != nil {
		return fmt.Errorf("upsert preference %s: %w", pref.UserID, err)
	}
	return nil
}
