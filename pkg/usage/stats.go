// Package usage aggregates token and cost figures across agent runs, per
// model and per day, for the run stats views.
package usage

import (
	"sort"
	"time"

	"github.com/jingkaihe/skillbuilder/pkg/types/agent"
)

// ModelUsage is the aggregate for one model.
type ModelUsage struct {
	Model  string           `json:"model"`
	Runs   int              `json:"runs"`
	Turns  int              `json:"turns"`
	Tokens agent.TokenUsage `json:"tokens"`
	Cost   float64          `json:"cost"`
}

// DailyUsage is the aggregate for one calendar day.
type DailyUsage struct {
	Date   time.Time        `json:"date"`
	Runs   int              `json:"runs"`
	Tokens agent.TokenUsage `json:"tokens"`
	Cost   float64          `json:"cost"`
}

// Stats is the full breakdown over a set of runs.
type Stats struct {
	ByModel []ModelUsage     `json:"by_model"`
	Daily   []DailyUsage     `json:"daily"`
	Total   agent.TokenUsage `json:"total"`
	Cost    float64          `json:"cost"`
	Runs    int              `json:"runs"`
	Failed  int              `json:"failed"`
}

// Calculate aggregates runs that started within [start, end]. Zero bounds
// are open. Models are sorted by cost, days newest first.
func Calculate(runs []agent.AgentRun, start, end time.Time) Stats {
	models := make(map[string]*ModelUsage)
	days := make(map[string]*DailyUsage)
	var stats Stats

	for _, run := range runs {
		if !start.IsZero() && run.StartTime.Before(start) {
			continue
		}
		if !end.IsZero() && run.StartTime.After(end) {
			continue
		}

		stats.Runs++
		if run.Status == agent.RunStatusError {
			stats.Failed++
		}
		stats.Total = stats.Total.Add(run.Usage)
		stats.Cost += run.TotalCost

		name := run.Model
		if name == "" {
			name = "unknown"
		}
		m, ok := models[name]
		if !ok {
			m = &ModelUsage{Model: name}
			models[name] = m
		}
		m.Runs++
		m.Turns += run.NumTurns
		m.Tokens = m.Tokens.Add(run.Usage)
		m.Cost += run.TotalCost

		day := time.Date(run.StartTime.Year(), run.StartTime.Month(), run.StartTime.Day(), 0, 0, 0, 0, run.StartTime.Location())
		key := day.Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &DailyUsage{Date: day}
			days[key] = d
		}
		d.Runs++
		d.Tokens = d.Tokens.Add(run.Usage)
		d.Cost += run.TotalCost
	}

	for _, m := range models {
		stats.ByModel = append(stats.ByModel, *m)
	}
	sort.Slice(stats.ByModel, func(i, j int) bool {
		if stats.ByModel[i].Cost == stats.ByModel[j].Cost {
			return stats.ByModel[i].Model < stats.ByModel[j].Model
		}
		return stats.ByModel[i].Cost > stats.ByModel[j].Cost
	})

	for _, d := range days {
		stats.Daily = append(stats.Daily, *d)
	}
	sort.Slice(stats.Daily, func(i, j int) bool {
		return stats.Daily[i].Date.After(stats.Daily[j].Date)
	})

	return stats
}
