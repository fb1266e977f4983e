// Package history stores terminal tool-call outcomes as an append-only case
// log with vector retrieval, so past decisions shape future risk scoring.
package history

import "time"

// Decision is the user/system decision recorded for a case.
type Decision string

const (
	DecisionConfirmed    Decision = "confirmed"
	DecisionRejected     Decision = "rejected"
	DecisionAutoApproved Decision = "auto_approved"
	DecisionBlocked      Decision = "blocked"
	DecisionExpired      Decision = "expired"
)

// Outcome is the execution outcome recorded for a case.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeExecuted Outcome = "executed"
	OutcomeFailed   Outcome = "execution_failed"
)

// Case is one appended historical case. Cases are never mutated or deleted.
type Case struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	UserID    string         `json:"user_id"`
	Question  string         `json:"question"`
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"params,omitempty"`
	RiskScore float64        `json:"risk_score"`
	Decision  Decision       `json:"decision"`
	Outcome   Outcome        `json:"outcome"`
	Feedback  string         `json:"feedback,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// SimilarCase pairs a retrieved case with its similarity to the query, in
// [0,1] with 1 meaning identical.
type SimilarCase struct {
	Case       *Case
	Similarity float64
}
