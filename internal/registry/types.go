package registry

import "time"

// Layer is the exposure tier of a registered service's tools.
type Layer string

const (
	// LayerCore tools are always exposed to the model.
	LayerCore Layer = "L1"

	// LayerDomain tools are exposed when the query matches the service's domain.
	LayerDomain Layer = "L2"

	// LayerElevated tools are exposed only with explicit elevated authorization.
	LayerElevated Layer = "L3"
)

// Valid reports whether l is one of the three known layers.
func (l Layer) Valid() bool {
	return l == LayerCore || l == LayerDomain || l == LayerElevated
}

// ToolDefinition is a single tool declared by a registered service.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema for the arguments
}

// ServiceRegistration is one registered tool provider. Name is globally
// unique; layer and domain are fixed for the lifetime of the record, and
// a re-registration replaces the whole record.
type ServiceRegistration struct {
	Name         string
	URL          string
	Description  string
	Tools        []ToolDefinition
	Layer        Layer
	Domain       string
	Active       bool
	RegisteredAt time.Time
}
