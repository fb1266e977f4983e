package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Malowking/MCP-Monitor/internal/apierror"
	"github.com/Malowking/MCP-Monitor/internal/history"
	"github.com/Malowking/MCP-Monitor/internal/rules"
)

type stubHistory struct {
	cases []history.SimilarCase
	err   error
}

func (s *stubHistory) Retrieve(_ context.Context, _ string) ([]history.SimilarCase, error) {
	return s.cases, s.err
}

type slowSignal struct {
	name  string
	delay time.Duration
}

func (s *slowSignal) Name() string { return s.name }
func (s *slowSignal) Measure(_ context.Context, _ *Input) (*Measurement, error) {
	time.Sleep(s.delay)
	return &Measurement{}, nil
}

type failingSignal struct{ name string }

func (f *failingSignal) Name() string { return f.name }
func (f *failingSignal) Measure(_ context.Context, _ *Input) (*Measurement, error) {
	return nil, errors.New("signal down")
}

func testRuleEngine(t *testing.T, rulesJSON, blacklistJSON string) *rules.Engine {
	t.Helper()
	eng, err := rules.NewEngine(func() (*rules.Set, error) {
		return rules.ParseSet([]byte(rulesJSON), []byte(blacklistJSON))
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func newTestScorer(hist Signal, eng *rules.Engine) *Scorer {
	var rule Signal
	if eng != nil {
		rule = NewRuleSignal(eng)
	}
	return NewScorer(hist, rule, NewBaseRiskSignal(), NewParameterSignal(),
		DefaultWeights(), DefaultThresholds(), 2*time.Second, zap.NewNop())
}

func TestAssessBlacklistedToolBlocked(t *testing.T) {
	blacklist := `{"blocked_tools":[{"tool_name":"delete_file","reason":"file deletion is not permitted"}]}`
	eng := testRuleEngine(t, "", blacklist)
	s := newTestScorer(NewHistorySignal(&stubHistory{}), eng)

	a := s.Assess(context.Background(), &Input{
		Question: "delete everything under /tmp",
		ToolName: "delete_file",
		Params:   map[string]any{"path": "/tmp/*"},
	})

	if !a.Blocked {
		t.Fatal("expected the call to be blocked")
	}
	if a.RequiresConfirmation {
		t.Error("blocked calls must not ask for confirmation")
	}
	if a.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", a.Score)
	}
	if a.Level != RiskHigh {
		t.Errorf("level = %v, want high", a.Level)
	}
	if len(a.Reasons) == 0 || !strings.Contains(a.Reasons[0], "not permitted") {
		t.Errorf("expected the blacklist reason first, got %v", a.Reasons)
	}
}

func TestAssessRejectedHistoryForcesConfirmation(t *testing.T) {
	cases := make([]history.SimilarCase, 0, 5)
	for i := 0; i < 5; i++ {
		cases = append(cases, history.SimilarCase{
			Case: &history.Case{
				RiskScore: 0.9,
				Decision:  history.DecisionRejected,
			},
			Similarity: 0.9,
		})
	}
	s := newTestScorer(NewHistorySignal(&stubHistory{cases: cases}), testRuleEngine(t, "", ""))

	a := s.Assess(context.Background(), &Input{
		Question: "delete all files in /tmp",
		ToolName: "delete_file",
		Params:   map[string]any{"path": "/tmp/*"},
	})

	if a.Score < 0.6 {
		t.Errorf("score = %v, want >= 0.6", a.Score)
	}
	if !a.RequiresConfirmation {
		t.Error("expected confirmation to be required")
	}
	if a.SimilarCaseCount != 5 {
		t.Errorf("similar case count = %d, want 5", a.SimilarCaseCount)
	}
}

func TestAssessLowRiskReadAutoApproves(t *testing.T) {
	s := newTestScorer(NewHistorySignal(&stubHistory{}), testRuleEngine(t, "", ""))

	a := s.Assess(context.Background(), &Input{
		Question: "what is the weather in Berlin",
		ToolName: "get_weather",
		Params:   map[string]any{"city": "Berlin"},
	})

	if a.RequiresConfirmation {
		t.Errorf("score = %v, expected no confirmation for a read-only call", a.Score)
	}
	if a.Blocked {
		t.Error("read-only call must not be blocked")
	}
	if a.Level != RiskLow {
		t.Errorf("level = %v, want low", a.Level)
	}
}

func TestAssessForceConfirmRule(t *testing.T) {
	rulesJSON := `{"rules":[{
		"rule_id":"r1","name":"payments need review",
		"message":"payment operations always need review",
		"action":"force_confirm","severity":0.4,
		"condition":{"tool_name_pattern":"payment"}
	}]}`
	s := newTestScorer(NewHistorySignal(&stubHistory{}), testRuleEngine(t, rulesJSON, ""))

	a := s.Assess(context.Background(), &Input{
		Question: "refund order 42",
		ToolName: "payment_refund",
		Params:   map[string]any{"order_id": "42"},
	})

	if !a.RequiresConfirmation {
		t.Error("force_confirm rule must require confirmation regardless of score")
	}
	if a.Blocked {
		t.Error("force_confirm must not block")
	}
	found := false
	for _, r := range a.Reasons {
		if strings.Contains(r, "always need review") {
			found = true
		}
	}
	if !found {
		t.Errorf("rule message missing from reasons: %v", a.Reasons)
	}
}

func TestAssessHistoryUnavailableDegrades(t *testing.T) {
	hist := NewHistorySignal(&stubHistory{err: apierror.Unavailable(errors.New("connection refused"), "vector store down")})
	s := newTestScorer(hist, testRuleEngine(t, "", ""))

	a := s.Assess(context.Background(), &Input{
		Question: "send the report",
		ToolName: "send_email",
		Params:   map[string]any{"to": "ops@example.com"},
	})

	if a.Blocked {
		t.Error("degraded history must not block")
	}
	found := false
	for _, r := range a.Reasons {
		if strings.Contains(r, "historical risk data unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a degradation reason, got %v", a.Reasons)
	}
	if a.SimilarCaseCount != 0 {
		t.Errorf("similar case count = %d, want 0", a.SimilarCaseCount)
	}
}

func TestAssessHistoryTimeoutDegrades(t *testing.T) {
	eng := testRuleEngine(t, "", "")
	s := NewScorer(
		&slowSignal{name: "history", delay: time.Second},
		NewRuleSignal(eng),
		NewBaseRiskSignal(),
		NewParameterSignal(),
		DefaultWeights(), DefaultThresholds(), 50*time.Millisecond, zap.NewNop())

	a := s.Assess(context.Background(), &Input{
		Question: "send the report",
		ToolName: "send_email",
		Params:   map[string]any{"to": "ops@example.com"},
	})

	if a.Blocked {
		t.Error("a timed-out history signal must not block")
	}
	found := false
	for _, r := range a.Reasons {
		if strings.Contains(r, "historical risk data unavailable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a degradation reason after timeout, got %v", a.Reasons)
	}
	if a.Elapsed >= time.Second {
		t.Errorf("elapsed = %v, fusion should not wait out the slow signal", a.Elapsed)
	}
}

func TestAssessAllSignalsUnavailableFailsSafe(t *testing.T) {
	s := NewScorer(
		&failingSignal{name: "history"},
		&failingSignal{name: "rules"},
		&failingSignal{name: "base_risk"},
		&failingSignal{name: "parameters"},
		DefaultWeights(), DefaultThresholds(), 2*time.Second, zap.NewNop())

	a := s.Assess(context.Background(), &Input{
		Question: "read the docs",
		ToolName: "get_page",
	})

	if !a.RequiresConfirmation {
		t.Error("expected fail-safe confirmation when no signal answered")
	}
}

func TestAssessSensitiveParameterRaisesScore(t *testing.T) {
	s := newTestScorer(NewHistorySignal(&stubHistory{}), testRuleEngine(t, "", ""))

	plain := s.Assess(context.Background(), &Input{
		Question: "fetch config",
		ToolName: "get_config",
		Params:   map[string]any{"name": "app"},
	})
	sensitive := s.Assess(context.Background(), &Input{
		Question: "fetch config",
		ToolName: "get_config",
		Params:   map[string]any{"name": "app", "api_key": "sk-abc"},
	})

	if sensitive.Score <= plain.Score {
		t.Errorf("sensitive score %v should exceed plain score %v", sensitive.Score, plain.Score)
	}
	found := false
	for _, r := range sensitive.Reasons {
		if strings.Contains(r, "sensitive data") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a sensitive-parameter reason, got %v", sensitive.Reasons)
	}
}

func TestAssessSchemaViolation(t *testing.T) {
	s := newTestScorer(NewHistorySignal(&stubHistory{}), testRuleEngine(t, "", ""))

	schema := map[string]any{
		"type":     "object",
		"required": []any{"city"},
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
	}

	a := s.Assess(context.Background(), &Input{
		Question: "what is the weather",
		ToolName: "get_weather",
		Params:   map[string]any{"town": "Berlin"},
		Schema:   schema,
	})

	found := false
	for _, r := range a.Reasons {
		if strings.Contains(r, "do not match the tool schema") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a schema violation reason, got %v", a.Reasons)
	}
	if a.Score < DefaultWeights().Parameters*0.6 {
		t.Errorf("score = %v, schema violation should contribute", a.Score)
	}
}

func TestAssessElevatedRiskBumpsScore(t *testing.T) {
	s := newTestScorer(NewHistorySignal(&stubHistory{}), testRuleEngine(t, "", ""))

	in := &Input{Question: "update record", ToolName: "update_record", Params: map[string]any{"id": "1"}}
	normal := s.Assess(context.Background(), in)

	elevated := *in
	elevated.ElevatedRisk = true
	bumped := s.Assess(context.Background(), &elevated)

	if bumped.Score <= normal.Score {
		t.Errorf("elevated score %v should exceed normal score %v", bumped.Score, normal.Score)
	}
}

func TestAssessmentWireNames(t *testing.T) {
	a := Assessment{
		Score:   0.7,
		Level:   RiskMedium,
		Reasons: []string{"bulk delete under /tmp"},
	}
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"risk_score"`, `"risk_level"`, `"risk_reasons"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("missing %s in %s", key, b)
		}
	}
}

func TestLevelThresholds(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskLow},
		{0.59, RiskLow},
		{0.6, RiskMedium},
		{0.79, RiskMedium},
		{0.8, RiskHigh},
		{1.0, RiskHigh},
	}
	for _, tc := range tests {
		if got := th.levelFor(tc.score); got != tc.want {
			t.Errorf("levelFor(%v) = %v, want %v", tc.score, got, tc.want)
		}
	}
}
