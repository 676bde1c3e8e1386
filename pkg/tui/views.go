package tui

import (
	"fmt"

	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// FormatUsageStats formats usage statistics for display
func FormatUsageStats(usage agenttypes.TokenUsage, cost float64) (usageText string, costText string) {
	if usage.Total() == 0 {
		return "", ""
	}

	usageText = fmt.Sprintf("Tokens: %d in / %d out / %d cw / %d cr / %d total",
		usage.Input, usage.Output, usage.CacheWrite, usage.CacheRead, usage.Total())

	if cost > 0 {
		costText = fmt.Sprintf(" | Cost: $%.4f", cost)
	}

	return usageText, costText
}

// GetSpinnerChar returns the spinner character for the given index
func GetSpinnerChar(index int) string {
	spinChars := []string{".", "∘", "○", "◌", "◍", "◉", "◎", "●"}
	return spinChars[index%len(spinChars)]
}
