package scoring

import "time"

// RiskLevel buckets a fused score for display and routing decisions.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Input carries everything the signal sources need to judge one
// proposed tool call.
type Input struct {
	Question string
	UserID   string
	ToolName string
	Params   map[string]any

	// Schema is the tool's argument schema from the registry, nil for
	// unregistered tools.
	Schema map[string]any

	// ElevatedRisk marks calls routed to a service whose circuit
	// breaker is half-open.
	ElevatedRisk bool
}

// Measurement is one signal source's contribution before fusion.
type Measurement struct {
	// Value is the source's risk estimate in [0, 1].
	Value float64

	Reasons  []string
	Insights []string

	// Blocked and ForceConfirm short-circuit fusion: they come from
	// the rule engine only.
	Blocked      bool
	ForceConfirm bool

	SimilarCases int
}

// Assessment is the fused verdict for one proposed tool call.
type Assessment struct {
	Score                float64   `json:"risk_score"`
	Level                RiskLevel `json:"risk_level"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	Blocked              bool      `json:"blocked"`

	// ForceConfirm records that a rule demanded confirmation
	// independent of the score, so personal thresholds cannot
	// override it.
	ForceConfirm bool `json:"-"`

	Reasons            []string      `json:"risk_reasons,omitempty"`
	HistoricalInsights []string      `json:"historical_insights,omitempty"`
	SimilarCaseCount   int           `json:"similar_case_count"`
	Elapsed            time.Duration `json:"-"`
}

// Weights control how much each signal source contributes to the
// fused score. They should sum to 1.
type Weights struct {
	History    float64
	Rules      float64
	BaseRisk   float64
	Parameters float64
}

// Thresholds map a fused score onto confirmation and level decisions.
type Thresholds struct {
	// Confirmation is the score at or above which a call needs an
	// explicit user decision before execution.
	Confirmation float64

	// High is the score at or above which the level is reported as
	// high rather than medium.
	High float64
}

func DefaultWeights() Weights {
	return Weights{
		History:    0.3,
		Rules:      0.2,
		BaseRisk:   0.3,
		Parameters: 0.2,
	}
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Confirmation: 0.6,
		High:         0.8,
	}
}

func (t Thresholds) levelFor(score float64) RiskLevel {
	switch {
	case score >= t.High:
		return RiskHigh
	case score >= t.Confirmation:
		return RiskMedium
	default:
		return RiskLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
