package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	agenttypes "github.com/jingkaihe/skillbuilder/pkg/types/agent"
	"github.com/jingkaihe/skillbuilder/pkg/tui"
)

// RunsListConfig holds configuration for the runs list command
type RunsListConfig struct {
	Skill string
	Limit int
	JSON  bool
}

// NewRunsListConfig creates a new RunsListConfig with default values
func NewRunsListConfig() *RunsListConfig {
	return &RunsListConfig{
		Skill: "",
		Limit: 20,
		JSON:  false,
	}
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect agent runs",
}

var runsListCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List recent agent runs",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getRunsListConfigFromFlags(cmd)

		a := mustApp(ctx)
		defer a.Close()

		list, err := a.runStore.ListRuns(ctx, config.Skill, config.Limit)
		if err != nil {
			exitWithError(err, "Failed to list runs")
		}
		if config.JSON {
			printJSON(list)
			return
		}
		if len(list) == 0 {
			presenter.Info("No agent runs found")
			return
		}
		presenter.Table([]string{"ID", "SKILL", "STEP", "LABEL", "STATUS", "STARTED", "DURATION", "TOKENS"}, runRows(list, time.Now()))
	},
})

var runsShowCmd = withTracing(&cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one agent run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustApp(ctx)
		defer a.Close()

		list, err := a.runStore.ListRuns(ctx, "", 0)
		if err != nil {
			exitWithError(err, "Failed to load runs")
		}
		for _, run := range list {
			if run.ID != args[0] {
				continue
			}
			presenter.Section(fmt.Sprintf("Run %s", run.ID))
			presenter.Info(fmt.Sprintf("Skill: %s | Step: %d | Label: %s | Model: %s | Status: %s",
				run.SkillName, run.StepIndex, run.Label, run.Model, run.Status))
			usage, cost := tui.FormatUsageStats(run.Usage, run.TotalCost)
			presenter.Info(usage + cost)
			if text := agenttypes.AssistantText(run); text != "" {
				fmt.Println(text)
			}
			if run.Status == agenttypes.RunStatusError {
				presenter.Warning(agenttypes.ErrorText(run))
			}
			return
		}
		exitWithError(errors.Errorf("run %s not found", args[0]), "")
	},
})

func init() {
	defaults := NewRunsListConfig()
	runsListCmd.Flags().String("skill", defaults.Skill, "Only show runs of this skill")
	runsListCmd.Flags().Int("limit", defaults.Limit, "Maximum number of runs (0 for all)")
	runsListCmd.Flags().Bool("json", defaults.JSON, "Print JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func getRunsListConfigFromFlags(cmd *cobra.Command) *RunsListConfig {
	config := NewRunsListConfig()
	if skill, err := cmd.Flags().GetString("skill"); err == nil {
		config.Skill = skill
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func runRows(list []agenttypes.AgentRun, now time.Time) [][]string {
	rows := make([][]string, 0, len(list))
	for _, run := range list {
		rows = append(rows, []string{
			run.ID,
			run.SkillName,
			strconv.Itoa(run.StepIndex),
			run.Label,
			string(run.Status),
			run.StartTime.Local().Format("2006-01-02 15:04:05"),
			run.Duration(now).Round(time.Second).String(),
			strconv.Itoa(run.Usage.Total()),
		})
	}
	return rows
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitWithError(err, "Failed to encode JSON")
	}
	fmt.Println(string(data))
}
