package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Malowking/MCP-Monitor/internal/history"
	"github.com/Malowking/MCP-Monitor/internal/rules"
)

// Signal is one independent risk estimator. Sources must be safe for
// concurrent use; the scorer fans them out in parallel.
type Signal interface {
	Name() string
	Measure(ctx context.Context, in *Input) (*Measurement, error)
}

// baseRiskTable maps tool-name keywords to an intrinsic risk value.
// When several keywords match, the highest value wins.
var baseRiskTable = []struct {
	keyword string
	value   float64
}{
	{"format", 1.0},
	{"truncate", 0.95},
	{"drop", 0.95},
	{"delete", 0.9},
	{"remove", 0.9},
	{"payment", 0.9},
	{"transfer", 0.9},
	{"execute", 0.85},
	{"exec", 0.85},
	{"eval", 0.85},
	{"update", 0.6},
	{"modify", 0.6},
	{"write", 0.5},
	{"insert", 0.5},
	{"send", 0.5},
	{"post", 0.5},
	{"query", 0.2},
	{"read", 0.1},
	{"get", 0.1},
	{"list", 0.1},
	{"search", 0.1},
}

const defaultBaseRisk = 0.3

// BaseRiskSignal estimates intrinsic risk from the tool name alone.
type BaseRiskSignal struct{}

func NewBaseRiskSignal() *BaseRiskSignal { return &BaseRiskSignal{} }

func (s *BaseRiskSignal) Name() string { return "base_risk" }

func (s *BaseRiskSignal) Measure(_ context.Context, in *Input) (*Measurement, error) {
	name := strings.ToLower(in.ToolName)
	value := defaultBaseRisk
	matched := ""
	for _, entry := range baseRiskTable {
		if strings.Contains(name, entry.keyword) && entry.value > value {
			value = entry.value
			matched = entry.keyword
		}
	}

	m := &Measurement{Value: value}
	if matched != "" && value >= 0.85 {
		m.Reasons = append(m.Reasons, fmt.Sprintf("tool name suggests a destructive operation (%s)", matched))
	}
	if in.ElevatedRisk {
		m.Value = clamp01(m.Value + 0.2)
		m.Reasons = append(m.Reasons, "target service is recovering from failures")
	}
	return m, nil
}

// sensitiveTokens flag parameters that commonly carry credentials or
// data whose exposure is itself a risk.
var sensitiveTokens = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"credential", "private_key", "ssn", "credit_card",
	"root", "admin", "sudo", "*", "recursive", "force",
}

// ParameterSignal scans argument names and string values for sensitive
// tokens and, when a schema is available, validates the arguments
// against it.
type ParameterSignal struct{}

func NewParameterSignal() *ParameterSignal { return &ParameterSignal{} }

func (s *ParameterSignal) Name() string { return "parameters" }

func (s *ParameterSignal) Measure(ctx context.Context, in *Input) (*Measurement, error) {
	m := &Measurement{}

	hits := 0
	names := make([]string, 0, len(in.Params))
	for name := range in.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		haystack := strings.ToLower(name)
		if str, ok := in.Params[name].(string); ok {
			haystack += " " + strings.ToLower(str)
		}
		for _, token := range sensitiveTokens {
			if strings.Contains(haystack, token) {
				hits++
				m.Reasons = append(m.Reasons, fmt.Sprintf("parameter %q carries sensitive data (%s)", name, token))
				break
			}
		}
	}
	m.Value = clamp01(float64(hits) * 0.3)

	if in.Schema != nil {
		if issue := validateArguments(in.Params, in.Schema); issue != "" {
			if m.Value < 0.6 {
				m.Value = 0.6
			}
			m.Reasons = append(m.Reasons, issue)
		}
	}
	return m, nil
}

func validateArguments(params map[string]any, schema map[string]any) string {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Sprintf("invalid argument schema: %v", err)
	}
	var schemaObj any
	if err := json.Unmarshal(schemaBytes, &schemaObj); err != nil {
		return fmt.Sprintf("invalid argument schema: %v", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaObj); err != nil {
		return fmt.Sprintf("argument schema rejected: %v", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Sprintf("argument schema rejected: %v", err)
	}

	// Round-trip through JSON so numeric types match what the
	// validator expects.
	argBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("arguments are not serializable: %v", err)
	}
	var args any
	if err := json.Unmarshal(argBytes, &args); err != nil {
		return fmt.Sprintf("arguments are not valid JSON: %v", err)
	}

	if err := sch.Validate(args); err != nil {
		return fmt.Sprintf("arguments do not match the tool schema: %v", err)
	}
	return ""
}

// RuleSignal consults the rule engine: blacklist hits and rule matches
// translate to blocks, forced confirmations, and severity.
type RuleSignal struct {
	engine *rules.Engine
}

func NewRuleSignal(engine *rules.Engine) *RuleSignal {
	return &RuleSignal{engine: engine}
}

func (s *RuleSignal) Name() string { return "rules" }

func (s *RuleSignal) Measure(_ context.Context, in *Input) (*Measurement, error) {
	res := s.engine.Check(in.ToolName, in.Params)
	return &Measurement{
		Value:        res.MaxSeverity,
		Reasons:      res.Messages,
		Blocked:      res.Blocked,
		ForceConfirm: res.ForceConfirm,
	}, nil
}

// HistorySource retrieves past decisions similar to the current
// question. *history.Retriever satisfies it.
type HistorySource interface {
	Retrieve(ctx context.Context, question string) ([]history.SimilarCase, error)
}

// HistorySignal weighs the current call against similar past decisions.
type HistorySignal struct {
	source HistorySource
}

func NewHistorySignal(source HistorySource) *HistorySignal {
	return &HistorySignal{source: source}
}

func (s *HistorySignal) Name() string { return "history" }

func (s *HistorySignal) Measure(ctx context.Context, in *Input) (*Measurement, error) {
	cases, err := s.source.Retrieve(ctx, in.Question)
	if err != nil {
		return nil, err
	}
	m := &Measurement{
		Value:        history.Signal(cases),
		SimilarCases: len(cases),
	}
	if len(cases) > 0 {
		m.Insights = history.Analyze(cases).Insights
	}
	return m, nil
}
