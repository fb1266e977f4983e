package confirm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
)

// TerminalHook runs once for every record that reaches a terminal
// state, including records created terminal (blocked).
type TerminalHook func(ctx context.Context, rec *Record)

// Manager drives the confirmation lifecycle over a Store and reaps
// pending records that outlive MaxPendingAge.
type Manager struct {
	store      Store
	maxAge     time.Duration
	logger     *zap.Logger
	onTerminal TerminalHook
}

const DefaultMaxPendingAge = 30 * time.Minute

func NewManager(store Store, maxPendingAge time.Duration, logger *zap.Logger) *Manager {
	if maxPendingAge <= 0 {
		maxPendingAge = DefaultMaxPendingAge
	}
	return &Manager{store: store, maxAge: maxPendingAge, logger: logger}
}

// SetTerminalHook installs the hook fired on terminal transitions.
// Call before serving traffic; the field is not synchronized.
func (m *Manager) SetTerminalHook(h TerminalHook) { m.onTerminal = h }

// Create persists a new record in its initial state. Valid initial
// states are pending, auto_approved, and blocked.
func (m *Manager) Create(ctx context.Context, rec *Record) error {
	switch rec.State {
	case StatePending, StateAutoApproved, StateBlocked:
	default:
		return apierror.Validation("invalid initial state %q", rec.State)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := m.store.Create(ctx, rec); err != nil {
		return err
	}
	if rec.State.Terminal() {
		m.fireTerminal(ctx, rec)
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, requestID string) (*Record, error) {
	rec, err := m.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierror.NotFound("no confirmation record for request %s", requestID)
	}
	return rec, nil
}

// Decide applies a user decision to a pending record. Feedback, when
// present, is stored on the record and carried into history.
func (m *Manager) Decide(ctx context.Context, requestID string, confirmed bool, feedback string) (*Record, error) {
	to := StateRejected
	if confirmed {
		to = StateConfirmed
	}
	rec, err := m.store.Transition(ctx, requestID, []State{StatePending}, to, feedback)
	if err != nil {
		return nil, err
	}
	m.logger.Info("confirmation decided",
		zap.String("request_id", requestID),
		zap.String("state", string(rec.State)),
	)
	if rec.State.Terminal() {
		m.fireTerminal(ctx, rec)
	}
	return rec, nil
}

// RecordExecution applies an execution report to a confirmed or
// auto-approved record. Reports against rejected or blocked records
// surface as conflicts.
func (m *Manager) RecordExecution(ctx context.Context, requestID string, success bool) (*Record, error) {
	to := StateExecutionFailed
	if success {
		to = StateExecuted
	}
	rec, err := m.store.Transition(ctx, requestID,
		[]State{StateConfirmed, StateAutoApproved}, to, "")
	if err != nil {
		return nil, err
	}
	m.logger.Info("execution recorded",
		zap.String("request_id", requestID),
		zap.Bool("success", success),
	)
	m.fireTerminal(ctx, rec)
	return rec, nil
}

// RunReaper expires stale pending records until ctx is cancelled.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx, time.Now().UTC()); err != nil {
				m.logger.Warn("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires pending records older than MaxPendingAge and returns
// how many it expired. A record decided while the sweep runs loses the
// race cleanly: the conditional transition conflicts and is skipped.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := m.store.ListStalePending(ctx, now.Add(-m.maxAge))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, rec := range stale {
		updated, err := m.store.Transition(ctx, rec.RequestID, []State{StatePending}, StateExpired, "")
		if err != nil {
			if apierror.IsConflict(err) {
				continue
			}
			m.logger.Warn("expire failed",
				zap.String("request_id", rec.RequestID),
				zap.Error(err),
			)
			continue
		}
		expired++
		m.logger.Info("confirmation expired",
			zap.String("request_id", updated.RequestID),
			zap.Duration("max_age", m.maxAge),
		)
		m.fireTerminal(ctx, updated)
	}
	return expired, nil
}

func (m *Manager) fireTerminal(ctx context.Context, rec *Record) {
	if m.onTerminal != nil {
		m.onTerminal(ctx, rec)
	}
}
