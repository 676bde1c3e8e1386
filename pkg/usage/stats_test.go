package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

func TestCalculate(t *testing.T) {
	day1 := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 10, 2, 11, 0, 0, 0, time.UTC)

	runs := []agent.AgentRun{
		{ID: "a", Model: "sonnet", StartTime: day1, NumTurns: 3, Usage: agent.TokenUsage{Input: 100, Output: 10}, TotalCost: 0.10, Status: agent.RunStatusCompleted},
		{ID: "b", Model: "opus", StartTime: day1.Add(time.Hour), NumTurns: 1, Usage: agent.TokenUsage{Input: 50, Output: 50, CacheRead: 5}, TotalCost: 0.90, Status: agent.RunStatusCompleted},
		{ID: "c", Model: "sonnet", StartTime: day2, NumTurns: 2, Usage: agent.TokenUsage{Input: 10}, TotalCost: 0.05, Status: agent.RunStatusError},
		{ID: "d", StartTime: day2.Add(time.Minute), Status: agent.RunStatusError},
	}

	stats := Calculate(runs, time.Time{}, time.Time{})

	assert.Equal(t, 4, stats.Runs)
	assert.Equal(t, 2, stats.Failed)
	assert.InDelta(t, 1.05, stats.Cost, 1e-9)
	assert.Equal(t, agent.TokenUsage{Input: 160, Output: 60, CacheRead: 5}, stats.Total)

	require.Len(t, stats.ByModel, 3)
	assert.Equal(t, "opus", stats.ByModel[0].Model)
	assert.Equal(t, "sonnet", stats.ByModel[1].Model)
	assert.Equal(t, 2, stats.ByModel[1].Runs)
	assert.Equal(t, 5, stats.ByModel[1].Turns)
	assert.Equal(t, "unknown", stats.ByModel[2].Model)

	require.Len(t, stats.Daily, 2)
	assert.Equal(t, 2, stats.Daily[0].Runs)
	assert.Equal(t, "2026-10-02", stats.Daily[0].Date.Format("2006-01-02"))
}

func TestCalculateWindow(t *testing.T) {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	runs := []agent.AgentRun{
		{ID: "old", StartTime: base.Add(-48 * time.Hour), TotalCost: 1},
		{ID: "new", StartTime: base.Add(time.Hour), TotalCost: 2},
	}

	stats := Calculate(runs, base, time.Time{})
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 2.0, stats.Cost)

	assert.Zero(t, Calculate(nil, time.Time{}, time.Time{}).Runs)
}
