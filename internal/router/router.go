// Package router decides which tool definitions are exposed to the model for
// a query. L1 tools are always included, L2 tools are gated by detected
// domains, and L3 tools require explicit elevated authorization. Services
// with an open circuit breaker are excluded regardless of domain match.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/health"
	"github.com/Malowking/MCP-Monitor/internal/registry"
)

// Request is one routing input.
type Request struct {
	Query string

	// ExplicitTools, when set, replaces intent-driven L2 selection with the
	// named tools.
	ExplicitTools []string

	// Elevated grants access to L3 tools. Never inferred from the query.
	Elevated bool
}

// Candidate is one tool selected for exposure.
type Candidate struct {
	Tool    registry.ToolDefinition
	Service string
	Layer   registry.Layer
	Domain  string

	// ElevatedRisk flags tools from half-open services so scoring treats
	// them as riskier.
	ElevatedRisk bool
}

// Result is the routing output.
type Result struct {
	Tools           []Candidate
	DetectedIntents []string
	ActiveDomains   []string
}

// Router selects tools from the registry, honoring circuit-breaker state.
// Routing is deterministic for identical (query, request, registry snapshot)
// inputs: intents and services are processed in sorted order and duplicate
// tool names keep their first (lowest-layer) occurrence.
type Router struct {
	store    registry.Store
	breakers *health.BreakerSet
	intents  map[string][]string // domain -> lowercase keywords
	logger   *zap.Logger
}

// DefaultIntentKeywords maps domains to the query keywords that activate them.
func DefaultIntentKeywords() map[string][]string {
	return map[string][]string{
		"weather":     {"weather", "temperature", "forecast", "rain"},
		"email":       {"email", "mail", "inbox", "send"},
		"file":        {"file", "files", "directory", "folder", "path"},
		"database":    {"database", "query", "sql", "table"},
		"network":     {"network", "request", "http", "api", "url"},
		"calculation": {"calculate", "math", "sum", "average"},
	}
}

// New creates a Router. Passing nil intents uses DefaultIntentKeywords.
func New(store registry.Store, breakers *health.BreakerSet, intents map[string][]string, logger *zap.Logger) *Router {
	if intents == nil {
		intents = DefaultIntentKeywords()
	}
	normalized := make(map[string][]string, len(intents))
	for domain, keywords := range intents {
		lowered := make([]string, len(keywords))
		for i, kw := range keywords {
			lowered[i] = strings.ToLower(kw)
		}
		normalized[domain] = lowered
	}
	return &Router{store: store, breakers: breakers, intents: normalized, logger: logger}
}

// Route returns the candidate tool set for req.
func (r *Router) Route(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}

	core, err := r.store.ListActive(ctx, registry.LayerCore)
	if err != nil {
		return nil, fmt.Errorf("router: list core services: %w", err)
	}
	r.appendServices(res, core)

	if len(req.ExplicitTools) > 0 {
		if err := r.appendExplicit(ctx, res, req.ExplicitTools); err != nil {
			return nil, err
		}
	} else {
		res.DetectedIntents = r.DetectIntents(req.Query)
		if err := r.appendDomainServices(ctx, res); err != nil {
			return nil, err
		}
	}

	if req.Elevated {
		elevated, err := r.store.ListActive(ctx, registry.LayerElevated)
		if err != nil {
			return nil, fmt.Errorf("router: list elevated services: %w", err)
		}
		r.appendServices(res, elevated)
	}

	res.Tools = dedupeByToolName(res.Tools)

	r.logger.Debug("tool routing complete",
		zap.Int("tools", len(res.Tools)),
		zap.Strings("intents", res.DetectedIntents),
		zap.Strings("active_domains", res.ActiveDomains),
	)
	return res, nil
}

// DetectIntents runs keyword matching over the query and returns matched
// domains in sorted order, or ["general"] when nothing matches.
func (r *Router) DetectIntents(query string) []string {
	lowered := strings.ToLower(query)
	var detected []string
	for domain, keywords := range r.intents {
		for _, kw := range keywords {
			if strings.Contains(lowered, kw) {
				detected = append(detected, domain)
				break
			}
		}
	}
	if len(detected) == 0 {
		return []string{"general"}
	}
	sort.Strings(detected)
	return detected
}

func (r *Router) appendDomainServices(ctx context.Context, res *Result) error {
	domainServices, err := r.store.ListActive(ctx, registry.LayerDomain)
	if err != nil {
		return fmt.Errorf("router: list domain services: %w", err)
	}

	active := make(map[string]bool)
	for _, intent := range res.DetectedIntents {
		for _, svc := range domainServices {
			if svc.Domain != intent {
				continue
			}
			if r.appendService(res, svc) {
				active[intent] = true
			}
		}
	}

	res.ActiveDomains = make([]string, 0, len(active))
	for domain := range active {
		res.ActiveDomains = append(res.ActiveDomains, domain)
	}
	sort.Strings(res.ActiveDomains)
	return nil
}

func (r *Router) appendExplicit(ctx context.Context, res *Result, names []string) error {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	services, err := r.store.ListActive(ctx, "")
	if err != nil {
		return fmt.Errorf("router: list services: %w", err)
	}
	for _, svc := range services {
		// Explicit selection does not bypass the layer contract: L3 tools
		// still require the elevated flag, handled by the caller's layer set.
		if svc.Layer == registry.LayerElevated {
			continue
		}
		state := r.breakers.StateFor(svc.Name)
		if state == health.StateOpen {
			continue
		}
		for _, tool := range svc.Tools {
			if !wanted[tool.Name] {
				continue
			}
			res.Tools = append(res.Tools, Candidate{
				Tool:         tool,
				Service:      svc.Name,
				Layer:        svc.Layer,
				Domain:       svc.Domain,
				ElevatedRisk: state == health.StateHalfOpen,
			})
		}
	}
	return nil
}

func (r *Router) appendServices(res *Result, services []*registry.ServiceRegistration) {
	for _, svc := range services {
		r.appendService(res, svc)
	}
}

// appendService adds all tools of svc unless its breaker is open. Returns
// whether anything was added.
func (r *Router) appendService(res *Result, svc *registry.ServiceRegistration) bool {
	state := r.breakers.StateFor(svc.Name)
	if state == health.StateOpen {
		r.logger.Debug("excluding service with open circuit",
			zap.String("service", svc.Name),
		)
		return false
	}
	added := false
	for _, tool := range svc.Tools {
		res.Tools = append(res.Tools, Candidate{
			Tool:         tool,
			Service:      svc.Name,
			Layer:        svc.Layer,
			Domain:       svc.Domain,
			ElevatedRisk: state == health.StateHalfOpen,
		})
		added = true
	}
	return added
}

func dedupeByToolName(tools []Candidate) []Candidate {
	seen := make(map[string]bool, len(tools))
	out := tools[:0]
	for _, c := range tools {
		if seen[c.Tool.Name] {
			continue
		}
		seen[c.Tool.Name] = true
		out = append(out, c)
	}
	return out
}

// Find returns the candidate with the given tool name, or nil.
func (res *Result) Find(toolName string) *Candidate {
	for i := range res.Tools {
		if res.Tools[i].Tool.Name == toolName {
			return &res.Tools[i]
		}
	}
	return nil
}
