package confirm

import "time"

// State is the lifecycle position of one proposed tool call.
type State string

const (
	// StatePending waits for an explicit user decision.
	StatePending State = "pending"
	// StateAutoApproved skipped confirmation because the score was low.
	StateAutoApproved State = "auto_approved"
	// StateBlocked was refused by the rule engine. Terminal.
	StateBlocked State = "blocked"
	// StateConfirmed was approved by the user and may execute.
	StateConfirmed State = "confirmed"
	// StateRejected was declined by the user. Terminal.
	StateRejected State = "rejected"
	// StateExecuted completed successfully. Terminal.
	StateExecuted State = "executed"
	// StateExecutionFailed completed with an error. Terminal.
	StateExecutionFailed State = "execution_failed"
	// StateExpired is a pending record the reaper timed out. Terminal,
	// treated as a rejection.
	StateExpired State = "expired"
)

// transitions enumerates every legal state change. Anything absent is
// a conflict.
var transitions = map[State]map[State]bool{
	StatePending: {
		StateConfirmed: true,
		StateRejected:  true,
		StateExpired:   true,
	},
	StateConfirmed: {
		StateExecuted:        true,
		StateExecutionFailed: true,
	},
	StateAutoApproved: {
		StateExecuted:        true,
		StateExecutionFailed: true,
	},
}

// CanTransition reports whether from may legally move to to.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	switch s {
	case StateBlocked, StateRejected, StateExecuted, StateExecutionFailed, StateExpired:
		return true
	}
	return false
}

// Record is one confirmation record, keyed by request id.
type Record struct {
	RequestID   string         `json:"request_id"`
	UserID      string         `json:"user_id"`
	Question    string         `json:"question"`
	ToolName    string         `json:"tool_name"`
	ServiceName string         `json:"service_name,omitempty"`
	Params      map[string]any `json:"params"`
	RiskScore   float64        `json:"risk_score"`
	RiskLevel   string         `json:"risk_level"`
	Message     string         `json:"message,omitempty"`
	State       State          `json:"state"`
	Feedback    string         `json:"feedback,omitempty"`

	// AutoApproved records that the call skipped the pending state, so
	// a later terminal transition can report the right decision.
	AutoApproved bool `json:"auto_approved"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
