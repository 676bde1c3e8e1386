package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbuilder/pkg/decisions"
	"github.com/jingkaihe/skillbuilder/pkg/skills"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

func TestReadText(t *testing.T) {
	t.Run("literal argument", func(t *testing.T) {
		text, err := readText("my answers", strings.NewReader("ignored"))
		require.NoError(t, err)
		assert.Equal(t, "my answers", text)
	})

	t.Run("dash reads input", func(t *testing.T) {
		text, err := readText("-", strings.NewReader("  Q1: yes\nQ2: no\n\n"))
		require.NoError(t, err)
		assert.Equal(t, "Q1: yes\nQ2: no", text)
	})
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "abcdefg...", truncateText("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncateText("éééééééé", 6))
}

func TestStepRows(t *testing.T) {
	rows := stepRows()
	require.Len(t, rows, len(workflow.Steps))

	assert.Equal(t, []string{"0", "Research", "agent", "context/research-plan.md, context/clarifications.md"}, rows[0])
	assert.Equal(t, "review", rows[workflow.StepReview][2])
}

func TestRunRows(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	rows := runRows([]agenttypes.AgentRun{
		{
			ID:        "run-1",
			SkillName: "pricing",
			StepIndex: 2,
			Label:     "step",
			Status:    agenttypes.RunStatusCompleted,
			StartTime: start,
			EndTime:   &end,
			Usage:     agenttypes.TokenUsage{Input: 10, Output: 5},
		},
		{
			ID:        "run-2",
			Status:    agenttypes.RunStatusRunning,
			StartTime: start,
		},
	}, start.Add(30*time.Second))

	require.Len(t, rows, 2)
	assert.Equal(t, "run-1", rows[0][0])
	assert.Equal(t, "2", rows[0][2])
	assert.Equal(t, "completed", rows[0][4])
	assert.Equal(t, "1m30s", rows[0][6])
	assert.Equal(t, "15", rows[0][7])
	assert.Equal(t, "30s", rows[1][6])
}

func TestDecisionRows(t *testing.T) {
	doc := decisions.Document{Decisions: []decisions.Decision{
		{Number: 1, Title: "Pricing model", Status: "resolved", Decision: "Usage based"},
		{Number: 2, Title: "Currency", Status: "needs-review", Decision: strings.Repeat("x", 80)},
	}}
	rows := decisionRows(doc)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"D1", "Pricing model", "resolved", "Usage based"}, rows[0])
	assert.Len(t, []rune(rows[1][3]), 60)
}

func TestSkillRows(t *testing.T) {
	rows := skillRows([]*skills.Skill{
		{Name: "pricing", Domain: "finance", Tags: []string{"b2b", "saas"}, Description: "Pricing analysis"},
	})
	assert.Equal(t, [][]string{{"pricing", "finance", "b2b,saas", "Pricing analysis"}}, rows)
}
