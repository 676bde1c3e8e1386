package reasoning

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the category of an agent response.
type Kind string

const (
	KindFollowUp  Kind = "follow_up"
	KindGateCheck Kind = "gate_check"
	KindOther     Kind = "other"
)

// Classification is the result of Classify.
type Classification struct {
	Kind Kind
	// Round is the round number found in the text, or 0 when absent.
	Round int
	// Questions is the verbatim follow-up block for KindFollowUp.
	Questions string
}

var (
	followUpMarker  = regexp.MustCompile(`(?i)follow[- ]?up\s+questions`)
	roundPattern    = regexp.MustCompile(`(?i)\bround\s+(\d+)`)
	gateCheckMarker = regexp.MustCompile(`(?i)gate[- ]check|ready to proceed|proceed to (?:the )?(?:build|next)|sufficient (?:to|for) proceed`)
	headingPattern  = regexp.MustCompile(`^(#{1,6})\s`)
)

// Classify maps the assistant output of one run to the next session phase.
// It is a pure function: the same text always yields the same result.
// Follow-up questions win over a gate check when both markers appear.
func Classify(text string) Classification {
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		if !followUpMarker.MatchString(line) {
			continue
		}
		round := extractRound(line)
		if round == 0 {
			round = extractRound(text)
		}
		return Classification{
			Kind:      KindFollowUp,
			Round:     round,
			Questions: questionBlock(lines, i),
		}
	}

	if gateCheckMarker.MatchString(text) {
		return Classification{Kind: KindGateCheck, Round: extractRound(text)}
	}
	return Classification{Kind: KindOther}
}

func extractRound(s string) int {
	m := roundPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func headingLevel(line string) int {
	m := headingPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0
	}
	return len(m[1])
}

// questionBlock returns the lines from start up to the next heading of the
// same or a higher level. A marker that is not a heading runs to the end.
func questionBlock(lines []string, start int) string {
	level := headingLevel(lines[start])
	end := len(lines)
	if level > 0 {
		for j := start + 1; j < len(lines); j++ {
			if l := headingLevel(lines[j]); l > 0 && l <= level {
				end = j
				break
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}
