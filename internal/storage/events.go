package storage

import "time"

// EventWriter is the interface for writing decision events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DecisionEvent)
	Close()
}

// DecisionEvent represents one gating decision to be persisted for
// offline analysis.
type DecisionEvent struct {
	RequestID    string
	Timestamp    time.Time
	UserID       string
	Question     string
	ToolName     string
	ServiceName  string
	ParamsJSON   string
	RiskScore    float64
	RiskLevel    string
	Decision     string // "pending", "auto_approved", "blocked", ...
	Outcome      string // "none", "executed", "execution_failed"
	Reasons      []string
	SimilarCases int32
	LatencyMs    float32
}
