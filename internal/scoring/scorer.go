package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scorer fans the signal sources out in parallel and fuses their
// measurements into a single assessment.
type Scorer struct {
	weights    Weights
	thresholds Thresholds
	timeout    time.Duration
	logger     *zap.Logger

	history    Signal
	rules      Signal
	baseRisk   Signal
	parameters Signal
}

// NewScorer wires the four signal sources. Any nil signal contributes
// zero risk with its weight intact.
func NewScorer(hist, rule, base, params Signal, weights Weights, thresholds Thresholds, timeout time.Duration, logger *zap.Logger) *Scorer {
	return &Scorer{
		weights:    weights,
		thresholds: thresholds,
		timeout:    timeout,
		logger:     logger,
		history:    hist,
		rules:      rule,
		baseRisk:   base,
		parameters: params,
	}
}

// signalOutput holds a single source's measurement alongside its
// fusion weight.
type signalOutput struct {
	name   string
	weight float64
	m      *Measurement
	err    error
}

// Assess runs the signal sources in parallel against one proposed tool
// call and fuses the results.
//
// Each goroutine sends its result through a buffered channel, so the
// main goroutine can safely read completed results without racing
// against in-flight writes. When the deadline fires, we stop reading
// and fuse whatever has been collected; sources that did not answer
// count as unavailable.
func (s *Scorer) Assess(ctx context.Context, in *Input) *Assessment {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sources := []struct {
		role   string
		sig    Signal
		weight float64
	}{
		{"history", s.history, s.weights.History},
		{"rules", s.rules, s.weights.Rules},
		{"base_risk", s.baseRisk, s.weights.BaseRisk},
		{"parameters", s.parameters, s.weights.Parameters},
	}

	ch := make(chan signalOutput, len(sources))
	launched := make(map[string]bool, len(sources))
	for _, src := range sources {
		if src.sig == nil {
			continue
		}
		launched[src.role] = true
		go func(role string, sig Signal, weight float64) {
			m, err := sig.Measure(ctx, in)
			ch <- signalOutput{name: role, weight: weight, m: m, err: err}
		}(src.role, src.sig, src.weight)
	}

	collected := make(map[string]signalOutput, len(launched))
	remaining := len(launched)
	for remaining > 0 {
		select {
		case out := <-ch:
			collected[out.name] = out
			remaining--
		case <-ctx.Done():
			s.logger.Warn("signal timeout exceeded, fusing partial results",
				zap.Duration("timeout", s.timeout),
			)
			remaining = 0
		}
	}

	return s.fuse(in, launched, collected, time.Since(start))
}

func (s *Scorer) fuse(in *Input, launched map[string]bool, collected map[string]signalOutput, elapsed time.Duration) *Assessment {
	a := &Assessment{Elapsed: elapsed}

	var (
		score        float64
		available    int
		forceConfirm bool
		ruleReasons  []string
		otherReasons []string
		unavailable  []string
	)

	names := []string{"history", "rules", "base_risk", "parameters"}
	for _, name := range names {
		out, ok := collected[name]
		if !ok {
			if launched[name] {
				s.logger.Warn("risk signal did not answer before deadline",
					zap.String("signal", name),
				)
				unavailable = append(unavailable, name)
			}
			continue
		}
		if out.err != nil || out.m == nil {
			if out.err != nil {
				s.logger.Warn("risk signal unavailable",
					zap.String("signal", out.name),
					zap.Error(out.err),
				)
			}
			unavailable = append(unavailable, out.name)
			continue
		}

		available++
		score += out.weight * clamp01(out.m.Value)

		switch name {
		case "rules":
			ruleReasons = append(ruleReasons, out.m.Reasons...)
			if out.m.Blocked {
				a.Blocked = true
			}
			if out.m.ForceConfirm {
				forceConfirm = true
			}
		case "history":
			a.HistoricalInsights = out.m.Insights
			a.SimilarCaseCount = out.m.SimilarCases
		default:
			otherReasons = append(otherReasons, out.m.Reasons...)
		}
	}

	for _, name := range unavailable {
		if name == "history" {
			otherReasons = append(otherReasons, "historical risk data unavailable")
		}
	}

	if a.Blocked {
		a.Score = 1.0
		a.Level = RiskHigh
		a.RequiresConfirmation = false
		a.Reasons = dedupe(append(ruleReasons, otherReasons...))
		a.Reasons = append(a.Reasons, a.HistoricalInsights...)
		a.Reasons = dedupe(a.Reasons)
		return a
	}

	a.Score = clamp01(score)
	a.Level = s.thresholds.levelFor(a.Score)
	a.ForceConfirm = forceConfirm
	a.RequiresConfirmation = forceConfirm || a.Score >= s.thresholds.Confirmation

	if available == 0 {
		// Nothing answered: fail safe and let a human decide.
		a.RequiresConfirmation = true
		a.Level = RiskMedium
		otherReasons = append(otherReasons, "risk signals unavailable, confirmation required")
	}

	reasons := append(ruleReasons, otherReasons...)
	reasons = append(reasons, a.HistoricalInsights...)
	a.Reasons = dedupe(reasons)
	return a
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
