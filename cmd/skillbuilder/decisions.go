package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/decisions"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
)

var decisionsCmd = withTracing(&cobra.Command{
	Use:   "decisions <file>",
	Short: "Parse a decisions or research plan file",
	Long: `Parse a decisions.md file and print its decisions with a status summary.
With --research-plan the file is read as a research plan and the scored
dimensions are printed instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			exitWithError(err, "Failed to read file")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		plan, _ := cmd.Flags().GetBool("research-plan")

		if plan {
			rp := decisions.ParseResearchPlan(string(data))
			if asJSON {
				printJSON(rp)
				return
			}
			presenter.Table([]string{"DIMENSION", "SCORE", "CHOSEN", "REASON"}, dimensionRows(rp))
			return
		}

		doc := decisions.ParseDecisions(string(data))
		summary := decisions.Summarize(doc)
		if asJSON {
			printJSON(struct {
				decisions.Document
				Summary decisions.Summary `json:"summary"`
			}{doc, summary})
			return
		}

		presenter.Table([]string{"#", "TITLE", "STATUS", "DECISION"}, decisionRows(doc))
		presenter.Info(fmt.Sprintf("%d decisions: %d resolved, %d conflict-resolved, %d need review, %d other",
			summary.Total, summary.Resolved, summary.ConflictResolved, summary.NeedsReview, summary.Other))
	},
})

func init() {
	decisionsCmd.Flags().Bool("json", false, "Print JSON")
	decisionsCmd.Flags().Bool("research-plan", false, "Parse the file as a research plan")
}

func decisionRows(doc decisions.Document) [][]string {
	rows := make([][]string, 0, len(doc.Decisions))
	for _, d := range doc.Decisions {
		rows = append(rows, []string{fmt.Sprintf("D%d", d.Number), d.Title, d.Status, truncateText(d.Decision, 60)})
	}
	return rows
}

func dimensionRows(rp decisions.ResearchPlan) [][]string {
	rows := make([][]string, 0, len(rp.Dimensions))
	for _, d := range rp.Dimensions {
		chosen := ""
		if d.Chosen {
			chosen = "yes"
		}
		rows = append(rows, []string{d.Name, fmt.Sprintf("%d", d.Score), chosen, truncateText(d.Reason, 60)})
	}
	return rows
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
