package prediction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinicflow/tiss/internal/tiss"
)

const systemInstruction = `You are an auditor of Brazilian health insurance claims (TISS guides).
Given one guide and the insurance operator it will be submitted to, predict the reasons the operator
is likely to reject (glosa) it. Answer only with a JSON array. Each element must have the fields
issue_type (UPPER_SNAKE_CASE), description, glosa_code (TISS glosa reason code) and probability
(0 to 100). Answer [] when you see no additional risk.`

// BuildPrompt renders the user prompt for one guide. Guide keys are emitted
// in sorted order so equal guides produce equal prompts.
func BuildPrompt(g tiss.Guide, operator string, existing []tiss.GlosaPrediction) (string, error) {
	guideJSON, err := json.MarshalIndent(map[string]any(g), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal guide: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Operator: %s\n\n", strings.TrimSpace(operator))
	b.WriteString("Guide:\n")
	b.Write(guideJSON)
	b.WriteString("\n\n")

	if len(existing) == 0 {
		b.WriteString("No issues were found by the rule engine.\n")
	} else {
		b.WriteString("Issues already found by the rule engine (do not repeat them):\n")
		for _, p := range existing {
			fmt.Fprintf(&b, "- %s (glosa %s, %.0f%%): %s\n", p.IssueType, p.GlosaCode, p.Probability*100, p.Description)
		}
	}
	b.WriteString("\nList only additional rejection risks as a JSON array.")
	return b.String(), nil
}
