// Package health tracks per-service health through periodic probes and a
// three-state circuit breaker consumed by the tool router.
package health

import (
	"sync"
	"time"
)

// State is the circuit-breaker state of one service.
type State int

const (
	// StateClosed routes traffic normally.
	StateClosed State = iota

	// StateOpen excludes the service from routing.
	StateOpen

	// StateHalfOpen allows probing while the service stays flagged as
	// elevated-risk for routing.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures breaker transitions.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed checks that opens
	// the breaker.
	FailureThreshold int

	// Cooldown is how long an open breaker waits after its last check before
	// allowing a half-open probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default transition parameters.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         60 * time.Second,
	}
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	LastCheck           time.Time
	LastHealthy         bool
	LastHealthyAt       time.Time
}

// Breaker is the circuit breaker owned by a single service. All methods are
// safe for concurrent use; transitions happen under the breaker's own lock so
// concurrent health checks and execution reports cannot lose updates.
type Breaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastCheck           time.Time
	lastHealthy         bool
	lastHealthyAt       time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{cfg: cfg, lastHealthy: true}
}

// ShouldProbe reports whether a health check should run now, transitioning
// open → half-open once the cooldown has elapsed since the last check.
func (b *Breaker) ShouldProbe(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if now.Sub(b.lastCheck) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful health signal. A half-open breaker
// closes on one success.
func (b *Breaker) RecordSuccess(now time.Time) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCheck = now
	b.lastHealthy = true
	b.lastHealthyAt = now
	b.consecutiveFailures = 0
	if b.state != StateClosed {
		b.state = StateClosed
	}
	return b.state
}

// RecordFailure records a failed health signal. A closed breaker opens after
// FailureThreshold consecutive failures; a half-open breaker reopens
// immediately.
func (b *Breaker) RecordFailure(now time.Time) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastCheck = now
	b.lastHealthy = false
	b.consecutiveFailures++

	switch b.state {
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
	}
	return b.state
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status returns a point-in-time snapshot.
func (b *Breaker) Status() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastCheck:           b.lastCheck,
		LastHealthy:         b.lastHealthy,
		LastHealthyAt:       b.lastHealthyAt,
	}
}

// BreakerSet owns one breaker per service name, created on first use.
type BreakerSet struct {
	cfg BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates an empty set using cfg for new breakers.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for name, creating it closed if absent.
func (s *BreakerSet) For(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = NewBreaker(s.cfg)
	s.breakers[name] = b
	return b
}

// StateFor returns the state for name without creating a breaker; unknown
// services are treated as closed.
func (s *BreakerSet) StateFor(name string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.breakers[name]; ok {
		return b.State()
	}
	return StateClosed
}

// StatusFor returns the snapshot for name, or a closed zero snapshot if the
// service has never been checked.
func (s *BreakerSet) StatusFor(name string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.breakers[name]; ok {
		return b.Status()
	}
	return Snapshot{State: StateClosed, LastHealthy: true}
}

// Forget drops the breaker for a deregistered service.
func (s *BreakerSet) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, name)
}
