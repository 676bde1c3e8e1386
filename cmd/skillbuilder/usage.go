package main

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	"github.com/jingkaihe/skillbuilder/pkg/usage"
)

// UsageConfig holds configuration for the runs stats command
type UsageConfig struct {
	Since string
	Until string
	Skill string
	JSON  bool
}

// NewUsageConfig creates a new UsageConfig with default values
func NewUsageConfig() *UsageConfig {
	return &UsageConfig{
		Since: "10d",
		Until: "",
		Skill: "",
		JSON:  false,
	}
}

var runsStatsCmd = withTracing(&cobra.Command{
	Use:   "stats",
	Short: "Show token usage and cost of agent runs",
	Long: `Show token usage and cost of agent runs by model and by day.

Examples:
  skillbuilder runs stats                     # Past 10 days
  skillbuilder runs stats --since 2026-06-01  # Since a date
  skillbuilder runs stats --since 1w --skill pricing`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getUsageConfigFromFlags(cmd)

		start, err := parseTimeSpec(config.Since, time.Now)
		if err != nil {
			exitWithError(err, "Invalid --since")
		}
		end, err := parseTimeSpec(config.Until, time.Now)
		if err != nil {
			exitWithError(err, "Invalid --until")
		}

		a := mustApp(ctx)
		defer a.Close()

		list, err := a.runStore.ListRuns(ctx, config.Skill, 0)
		if err != nil {
			exitWithError(err, "Failed to load runs")
		}
		stats := usage.Calculate(list, start, end)
		if config.JSON {
			printJSON(stats)
			return
		}
		if stats.Runs == 0 {
			presenter.Info("No agent runs in this period")
			return
		}

		presenter.Section("By model")
		presenter.Table([]string{"MODEL", "RUNS", "TURNS", "INPUT", "OUTPUT", "CACHE WRITE", "CACHE READ", "COST"}, modelRows(stats))
		presenter.Section("By day")
		presenter.Table([]string{"DATE", "RUNS", "TOKENS", "COST"}, dailyRows(stats))
		presenter.Info(formatTotals(stats))
	},
})

func init() {
	defaults := NewUsageConfig()
	runsStatsCmd.Flags().String("since", defaults.Since, "Only runs since this time (e.g., 2026-06-01, 1d, 1w)")
	runsStatsCmd.Flags().String("until", defaults.Until, "Only runs until this time (e.g., 2026-06-01)")
	runsStatsCmd.Flags().String("skill", defaults.Skill, "Only runs of this skill")
	runsStatsCmd.Flags().Bool("json", defaults.JSON, "Print JSON")

	runsCmd.AddCommand(runsStatsCmd)
}

func getUsageConfigFromFlags(cmd *cobra.Command) *UsageConfig {
	config := NewUsageConfig()
	if since, err := cmd.Flags().GetString("since"); err == nil {
		config.Since = since
	}
	if until, err := cmd.Flags().GetString("until"); err == nil {
		config.Until = until
	}
	if skill, err := cmd.Flags().GetString("skill"); err == nil {
		config.Skill = skill
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

var timeSpecPattern = regexp.MustCompile(`^(\d+)([dhw])$`)

// parseTimeSpec accepts YYYY-MM-DD or a relative span such as 1d, 6h or 2w.
// An empty spec is the zero time.
func parseTimeSpec(spec string, now func() time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", spec); err == nil {
		return t, nil
	}

	m := timeSpecPattern.FindStringSubmatch(spec)
	if m == nil {
		return time.Time{}, errors.Errorf("invalid time specification: %s (expected format: YYYY-MM-DD, 1d, 1w, etc.)", spec)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, errors.Errorf("invalid number in time specification: %s", m[1])
	}

	switch m[2] {
	case "d":
		return now().AddDate(0, 0, -amount), nil
	case "h":
		return now().Add(-time.Duration(amount) * time.Hour), nil
	default:
		return now().AddDate(0, 0, -amount*7), nil
	}
}

func modelRows(stats usage.Stats) [][]string {
	rows := make([][]string, 0, len(stats.ByModel))
	for _, m := range stats.ByModel {
		rows = append(rows, []string{
			m.Model,
			strconv.Itoa(m.Runs),
			strconv.Itoa(m.Turns),
			strconv.Itoa(m.Tokens.Input),
			strconv.Itoa(m.Tokens.Output),
			strconv.Itoa(m.Tokens.CacheWrite),
			strconv.Itoa(m.Tokens.CacheRead),
			strconv.FormatFloat(m.Cost, 'f', 4, 64),
		})
	}
	return rows
}

func dailyRows(stats usage.Stats) [][]string {
	rows := make([][]string, 0, len(stats.Daily))
	for _, d := range stats.Daily {
		rows = append(rows, []string{
			d.Date.Format("2006-01-02"),
			strconv.Itoa(d.Runs),
			strconv.Itoa(d.Tokens.Total()),
			strconv.FormatFloat(d.Cost, 'f', 4, 64),
		})
	}
	return rows
}

func formatTotals(stats usage.Stats) string {
	return fmt.Sprintf("Total: %d runs (%d failed), %d tokens, $%.4f", stats.Runs, stats.Failed, stats.Total.Total(), stats.Cost)
}
