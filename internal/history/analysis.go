package history

import "fmt"

// Analysis summarizes retrieved neighbors for scoring and for the
// confirmation prompt shown to the user.
type Analysis struct {
	HasHistory  bool
	TotalCases  int
	HighRisk    int
	Rejected    int
	Confirmed   int
	ExecFailed  int
	Insights    []string
	Preferences []string
}

// Analyze aggregates the retrieved cases into counted patterns and
// natural-language insights. Raw vectors never appear here.
func Analyze(cases []SimilarCase) Analysis {
	a := Analysis{TotalCases: len(cases)}
	if len(cases) == 0 {
		return a
	}
	a.HasHistory = true

	for _, sc := range cases {
		c := sc.Case
		if c.RiskScore > 0.7 {
			a.HighRisk++
		}
		switch c.Decision {
		case DecisionConfirmed, DecisionAutoApproved:
			a.Confirmed++
		case DecisionRejected, DecisionExpired, DecisionBlocked:
			a.Rejected++
		}
		if c.Outcome == OutcomeFailed {
			a.ExecFailed++
		}
	}

	if a.HighRisk > 0 {
		a.Insights = append(a.Insights,
			fmt.Sprintf("%d of %d similar past operations were marked high risk", a.HighRisk, a.TotalCases))
	}
	if a.Rejected > 0 {
		a.Insights = append(a.Insights,
			fmt.Sprintf("%d similar past operations were rejected", a.Rejected))
	}
	if a.ExecFailed > 0 {
		a.Insights = append(a.Insights,
			fmt.Sprintf("%d similar past operations failed during execution", a.ExecFailed))
	}

	if a.Confirmed > a.Rejected {
		a.Preferences = append(a.Preferences, "you usually approve this kind of operation")
	} else if a.Rejected > a.Confirmed {
		a.Preferences = append(a.Preferences, "you usually reject this kind of operation")
	}

	return a
}

// Signal computes the historical risk component in [0,1]: each neighbor
// contributes its stored risk score weighted by similarity, with rejections
// and failed executions amplified and confirmed clean repeats dampened.
// Zero neighbors yield zero.
func Signal(cases []SimilarCase) float64 {
	if len(cases) == 0 {
		return 0
	}
	var weighted, totalWeight float64
	for _, sc := range cases {
		c := sc.Case
		contribution := c.RiskScore
		switch {
		case c.Decision == DecisionRejected || c.Decision == DecisionBlocked ||
			c.Decision == DecisionExpired || c.Outcome == OutcomeFailed:
			contribution *= 1.25
		case (c.Decision == DecisionConfirmed || c.Decision == DecisionAutoApproved) &&
			c.Outcome == OutcomeExecuted:
			contribution *= 0.75
		}
		if contribution > 1 {
			contribution = 1
		}
		weighted += sc.Similarity * contribution
		totalWeight += sc.Similarity
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}
