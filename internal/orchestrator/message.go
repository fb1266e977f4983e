package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Malowking/MCP-Monitor/internal/scoring"
)

// buildConfirmationMessage renders the prompt shown to the user for a
// pending call. High-risk calls get stronger wording.
func buildConfirmationMessage(toolName string, params map[string]any, a *scoring.Assessment) string {
	var b strings.Builder

	if a.Level == scoring.RiskHigh {
		b.WriteString("HIGH RISK operation detected.\n")
	}
	fmt.Fprintf(&b, "The assistant wants to call %q with arguments %s.\n", toolName, renderParams(params))
	fmt.Fprintf(&b, "Risk: %s (score %.2f).\n", a.Level, a.Score)

	// Reasons already carry the historical insights in order.
	if len(a.Reasons) > 0 {
		b.WriteString("Why this needs your attention:\n")
		for _, r := range a.Reasons {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}

	if a.Level == scoring.RiskHigh {
		b.WriteString("Please review the arguments carefully before approving.")
	} else {
		b.WriteString("Approve to proceed or reject to cancel.")
	}
	return b.String()
}
