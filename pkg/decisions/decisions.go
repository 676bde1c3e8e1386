package decisions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// File is the decisions document inside a skill's context dir.
const File = "decisions.md"

// Decision statuses.
const (
	StatusResolved         = "resolved"
	StatusConflictResolved = "conflict-resolved"
	StatusNeedsReview      = "needs-review"
)

// Frontmatter is the metadata block of a decisions document.
type Frontmatter struct {
	DecisionCount     int            `mapstructure:"decision_count" json:"decision_count"`
	ConflictsResolved int            `mapstructure:"conflicts_resolved" json:"conflicts_resolved"`
	Round             int            `mapstructure:"round" json:"round"`
	Extra             map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// Decision is one `### D<n>: <title>` section.
type Decision struct {
	Number           int    `json:"number"`
	Title            string `json:"title"`
	OriginalQuestion string `json:"original_question"`
	Decision         string `json:"decision"`
	Implication      string `json:"implication"`
	Status           string `json:"status"`
}

// Document is a parsed decisions file.
type Document struct {
	Frontmatter Frontmatter `json:"frontmatter"`
	Decisions   []Decision  `json:"decisions"`
}

var (
	decisionHeading = regexp.MustCompile(`^###\s+D(\d+)\s*:\s*(.*?)\s*$`)
	fieldBullet     = regexp.MustCompile(`^\s*[-*]\s+\*\*([^*:]+):?\*\*:?\s*(.*)$`)
	anyHeading      = regexp.MustCompile(`^#{1,3}\s`)
)

// ParseDecisions parses a decisions document.
func ParseDecisions(content string) Document {
	raw, body := splitFrontmatter(content)
	doc := Document{Frontmatter: decodeFrontmatter(raw), Decisions: []Decision{}}

	var current *Decision
	var field *string
	flush := func() {
		if current != nil {
			doc.Decisions = append(doc.Decisions, *current)
		}
		current, field = nil, nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if m := decisionHeading.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			current = &Decision{Number: n, Title: m[2]}
			continue
		}
		if current == nil {
			continue
		}
		if anyHeading.MatchString(line) {
			flush()
			continue
		}
		if m := fieldBullet.FindStringSubmatch(line); m != nil {
			field = current.field(m[1])
			if field != nil {
				*field = strings.TrimSpace(m[2])
			}
			continue
		}
		// Continuation lines extend the previous field.
		if field != nil && strings.TrimSpace(line) != "" {
			*field = strings.TrimSpace(*field + "\n" + strings.TrimSpace(line))
		}
	}
	flush()

	for i := range doc.Decisions {
		doc.Decisions[i].Status = normalizeStatus(doc.Decisions[i].Status)
	}
	return doc
}

func (d *Decision) field(label string) *string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "original question", "question":
		return &d.OriginalQuestion
	case "decision":
		return &d.Decision
	case "implication", "implications":
		return &d.Implication
	case "status":
		return &d.Status
	}
	return nil
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), "`*_"))
	return strings.Join(strings.Fields(s), "-")
}

func decodeFrontmatter(raw map[string]any) Frontmatter {
	var fm Frontmatter
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &fm,
	})
	if err != nil {
		return Frontmatter{}
	}
	// Fields that fail to decode stay zero; the rest are kept.
	_ = dec.Decode(raw)
	return fm
}

// Summary counts decisions by status.
type Summary struct {
	Total            int `json:"total"`
	Resolved         int `json:"resolved"`
	ConflictResolved int `json:"conflict_resolved"`
	NeedsReview      int `json:"needs_review"`
	Other            int `json:"other"`
}

// Summarize counts the decisions of doc.
func Summarize(doc Document) Summary {
	s := Summary{Total: len(doc.Decisions)}
	for _, d := range doc.Decisions {
		switch d.Status {
		case StatusResolved:
			s.Resolved++
		case StatusConflictResolved:
			s.ConflictResolved++
		case StatusNeedsReview:
			s.NeedsReview++
		default:
			s.Other++
		}
	}
	return s
}
