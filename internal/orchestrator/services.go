package orchestrator

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
	"github.com/Malowking/MCP-Monitor/internal/registry"
)

// RegisterRequest describes one service registration.
type RegisterRequest struct {
	Name        string                    `json:"name" binding:"required"`
	URL         string                    `json:"url" binding:"required"`
	Description string                    `json:"description,omitempty"`
	Tools       []registry.ToolDefinition `json:"tools,omitempty"`
	Layer       registry.Layer            `json:"layer,omitempty"`
	Domain      string                    `json:"domain,omitempty"`
}

// ServiceStatus is the aggregate view of one registered service.
type ServiceStatus struct {
	Name        string         `json:"name"`
	URL         string         `json:"url"`
	Description string         `json:"description,omitempty"`
	Layer       registry.Layer `json:"layer"`
	Domain      string         `json:"domain,omitempty"`
	ToolCount   int            `json:"tool_count"`

	BreakerState        string     `json:"breaker_state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheck           *time.Time `json:"last_check,omitempty"`
	LastHealthy         *time.Time `json:"last_healthy,omitempty"`

	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

// RegisterService upserts a registration. New services past the
// configured limit are refused.
func (o *Orchestrator) RegisterService(ctx context.Context, req *RegisterRequest) (*registry.ServiceRegistration, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apierror.Validation("service name is required")
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apierror.Validation("service url %q is not a valid absolute URL", req.URL)
	}
	layer := req.Layer
	if layer == "" {
		layer = registry.LayerDomain
	}
	switch layer {
	case registry.LayerCore, registry.LayerDomain, registry.LayerElevated:
	default:
		return nil, apierror.Validation("unknown layer %q", layer)
	}
	for _, tool := range req.Tools {
		if strings.TrimSpace(tool.Name) == "" {
			return nil, apierror.Validation("tool definitions require a name")
		}
	}

	existing, err := o.services.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		count, err := o.services.CountActive(ctx)
		if err != nil {
			return nil, err
		}
		if count >= o.maxServices {
			return nil, apierror.Validation("service limit reached (%d)", o.maxServices)
		}
	}

	reg := &registry.ServiceRegistration{
		Name:         name,
		URL:          req.URL,
		Description:  req.Description,
		Tools:        req.Tools,
		Layer:        layer,
		Domain:       req.Domain,
		Active:       true,
		RegisteredAt: time.Now().UTC(),
	}
	if existing != nil {
		reg.RegisteredAt = existing.RegisteredAt
	}
	if err := o.services.Upsert(ctx, reg); err != nil {
		return nil, err
	}

	o.logger.Info("service registered",
		zap.String("service", name),
		zap.String("layer", string(layer)),
		zap.Int("tools", len(req.Tools)),
	)
	return reg, nil
}

// DeregisterService removes a registration along with its breaker and
// call counters.
func (o *Orchestrator) DeregisterService(ctx context.Context, name string) error {
	removed, err := o.services.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !removed {
		return apierror.NotFound("service %s is not registered", name)
	}
	o.monitor.Breakers().Forget(name)
	o.stats.Forget(name)
	o.logger.Info("service deregistered", zap.String("service", name))
	return nil
}

// ListServices returns the status projection for every active service.
func (o *Orchestrator) ListServices(ctx context.Context) ([]ServiceStatus, error) {
	regs, err := o.services.ListActive(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]ServiceStatus, 0, len(regs))
	for _, reg := range regs {
		out = append(out, o.statusFor(reg))
	}
	return out, nil
}

// ServiceStatus returns the status projection for one service.
func (o *Orchestrator) ServiceStatus(ctx context.Context, name string) (*ServiceStatus, error) {
	reg, err := o.services.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, apierror.NotFound("service %s is not registered", name)
	}
	status := o.statusFor(reg)
	return &status, nil
}

// ServiceTools returns the tool definitions one service exposes.
func (o *Orchestrator) ServiceTools(ctx context.Context, name string) ([]registry.ToolDefinition, error) {
	reg, err := o.services.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, apierror.NotFound("service %s is not registered", name)
	}
	return reg.Tools, nil
}

func (o *Orchestrator) statusFor(reg *registry.ServiceRegistration) ServiceStatus {
	snap := o.monitor.Breakers().StatusFor(reg.Name)
	calls := o.stats.Snapshot(reg.Name)

	status := ServiceStatus{
		Name:                reg.Name,
		URL:                 reg.URL,
		Description:         reg.Description,
		Layer:               reg.Layer,
		Domain:              reg.Domain,
		ToolCount:           len(reg.Tools),
		BreakerState:        snap.State.String(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		TotalCalls:          calls.Total,
		SuccessfulCalls:     calls.Success,
		FailedCalls:         calls.Failed,
		AvgLatencyMs:        float64(calls.AverageLatency.Microseconds()) / 1000,
	}
	if !snap.LastCheck.IsZero() {
		t := snap.LastCheck
		status.LastCheck = &t
	}
	if !snap.LastHealthyAt.IsZero() {
		t := snap.LastHealthyAt
		status.LastHealthy = &t
	}
	return status
}
