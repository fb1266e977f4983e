package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Malowking/MCP-Monitor/internal/registry"
)

// Prober performs one health check against a service.
type Prober interface {
	// Probe returns nil when the service is healthy. The monitor never
	// inspects response payloads, only success/failure and latency.
	Probe(ctx context.Context, serviceURL string) error
}

// HTTPProber probes a service's /health endpoint.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context, serviceURL string) error {
	url := strings.TrimSuffix(serviceURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// MonitorConfig configures the periodic health sweep.
type MonitorConfig struct {
	// Interval between sweeps over all registered services.
	Interval time.Duration

	// ProbeTimeout bounds a single health check.
	ProbeTimeout time.Duration

	// MaxConcurrentProbes bounds the probe fan-out per sweep.
	MaxConcurrentProbes int

	// CountExecutionFailures feeds failed execution reports into the breaker's
	// failure counter. Off by default: execution failures are often caused by
	// bad arguments rather than provider health.
	CountExecutionFailures bool
}

// DefaultMonitorConfig returns the default sweep parameters.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:            30 * time.Second,
		ProbeTimeout:        10 * time.Second,
		MaxConcurrentProbes: 8,
	}
}

// Monitor runs health checks on a fixed interval per registered service,
// independent of request traffic, and owns the breaker transitions.
type Monitor struct {
	store    registry.Store
	prober   Prober
	breakers *BreakerSet
	cfg      MonitorConfig
	logger   *zap.Logger
	onChange func(service string, state State)
}

// NewMonitor creates a monitor over the given registry store and breaker set.
func NewMonitor(store registry.Store, prober Prober, breakers *BreakerSet, cfg MonitorConfig, logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = 8
	}
	return &Monitor{
		store:    store,
		prober:   prober,
		breakers: breakers,
		cfg:      cfg,
		logger:   logger,
	}
}

// OnStateChange registers a callback invoked after a sweep or execution
// report changes a breaker's state. Used for metrics.
func (m *Monitor) OnStateChange(fn func(service string, state State)) {
	m.onChange = fn
}

// Breakers exposes the breaker set shared with the router.
func (m *Monitor) Breakers() *BreakerSet { return m.breakers }

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every active service whose breaker allows a check right now.
func (m *Monitor) Sweep(ctx context.Context) {
	services, err := m.store.ListActive(ctx, "")
	if err != nil {
		m.logger.Warn("health sweep: listing services failed", zap.Error(err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrentProbes)
	for _, svc := range services {
		g.Go(func() error {
			m.checkService(gctx, svc)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) checkService(ctx context.Context, svc *registry.ServiceRegistration) {
	b := m.breakers.For(svc.Name)
	now := time.Now()
	if !b.ShouldProbe(now) {
		return
	}
	before := b.State()

	probeCtx := ctx
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}

	start := time.Now()
	err := m.prober.Probe(probeCtx, svc.URL)
	latency := time.Since(start)

	var after State
	if err != nil {
		after = b.RecordFailure(time.Now())
		m.logger.Warn("health check failed",
			zap.String("service", svc.Name),
			zap.Duration("latency", latency),
			zap.String("breaker_state", after.String()),
			zap.Error(err),
		)
	} else {
		after = b.RecordSuccess(time.Now())
		m.logger.Debug("health check ok",
			zap.String("service", svc.Name),
			zap.Duration("latency", latency),
		)
	}

	if after != before {
		m.logger.Info("circuit breaker transition",
			zap.String("service", svc.Name),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
		)
		if m.onChange != nil {
			m.onChange(svc.Name, after)
		}
	}
}

// ReportExecution folds an execution outcome into the breaker when the
// monitor is configured to count execution failures as health signals.
// Successes always count: a service that just executed a call is reachable.
func (m *Monitor) ReportExecution(service string, success bool) {
	b := m.breakers.For(service)
	before := b.State()

	var after State
	switch {
	case success:
		after = b.RecordSuccess(time.Now())
	case m.cfg.CountExecutionFailures:
		after = b.RecordFailure(time.Now())
	default:
		return
	}

	if after != before {
		m.logger.Info("circuit breaker transition from execution report",
			zap.String("service", service),
			zap.String("from", before.String()),
			zap.String("to", after.String()),
		)
		if m.onChange != nil {
			m.onChange(service, after)
		}
	}
}
