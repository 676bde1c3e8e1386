package decisions

import (
	"regexp"
	"strconv"
	"strings"
)

// ResearchPlanFile is the research plan inside a skill's context dir.
const ResearchPlanFile = "research-plan.md"

// Dimension is one scored row of the research plan.
type Dimension struct {
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
	Chosen bool   `json:"chosen"`
}

// ResearchPlan is a parsed research plan.
type ResearchPlan struct {
	Frontmatter map[string]any `json:"frontmatter"`
	Dimensions  []Dimension    `json:"dimensions"`
	Chosen      []string       `json:"chosen"`
}

var (
	tableSeparator = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?\s*$`)
	chosenHeading  = regexp.MustCompile(`(?i)^#{2,3}\s+(chosen|selected)\s+dimensions`)
	listItem       = regexp.MustCompile(`^\s*(?:[-*]|\d+\.)\s+(.+)$`)
	leadingInt     = regexp.MustCompile(`^\d+`)
)

// ParseResearchPlan reads the dimension table and the chosen dimension
// list. Rows the table cannot explain are skipped.
func ParseResearchPlan(content string) ResearchPlan {
	raw, body := splitFrontmatter(content)
	plan := ResearchPlan{Frontmatter: raw, Dimensions: []Dimension{}, Chosen: []string{}}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	cols := map[string]int{}
	inTable, inChosen := false, false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			inChosen = chosenHeading.MatchString(trimmed)
			inTable = false
			continue
		}

		if strings.HasPrefix(trimmed, "|") {
			if tableSeparator.MatchString(trimmed) {
				continue
			}
			cells := splitRow(trimmed)
			if !inTable {
				cols, inTable = headerColumns(cells)
				continue
			}
			if d, ok := rowDimension(cells, cols); ok {
				plan.Dimensions = append(plan.Dimensions, d)
			}
			continue
		}
		inTable = false

		if inChosen {
			if m := listItem.FindStringSubmatch(line); m != nil {
				plan.Chosen = append(plan.Chosen, cleanName(m[1]))
			}
		}
	}

	for i := range plan.Dimensions {
		for _, c := range plan.Chosen {
			if strings.EqualFold(c, plan.Dimensions[i].Name) {
				plan.Dimensions[i].Chosen = true
			}
		}
	}
	return plan
}

func splitRow(row string) []string {
	row = strings.TrimSuffix(strings.TrimPrefix(row, "|"), "|")
	cells := strings.Split(row, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func headerColumns(cells []string) (map[string]int, bool) {
	cols := map[string]int{}
	for i, c := range cells {
		switch strings.ToLower(c) {
		case "dimension":
			cols["dimension"] = i
		case "score":
			cols["score"] = i
		case "reason", "rationale":
			cols["reason"] = i
		}
	}
	_, ok := cols["dimension"]
	return cols, ok
}

func rowDimension(cells []string, cols map[string]int) (Dimension, bool) {
	cell := func(key string) string {
		i, ok := cols[key]
		if !ok || i >= len(cells) {
			return ""
		}
		return cells[i]
	}

	name := cleanName(cell("dimension"))
	if name == "" {
		return Dimension{}, false
	}
	score, _ := strconv.Atoi(leadingInt.FindString(cell("score")))
	return Dimension{Name: name, Score: score, Reason: cell("reason")}, true
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_`")
	if i := strings.Index(s, " — "); i > 0 {
		s = s[:i]
	}
	if i := strings.Index(s, " - "); i > 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
