package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	"github.com/jingkaihe/skillbuilder/pkg/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Manage finished skills",
	Long: `Manage the skills in the skills directory: list, rename and update their
metadata, delete them, and move them between machines as zip archives.`,
}

var skillListCmd = withTracing(&cobra.Command{
	Use:   "list [filter]",
	Short: "List skills, optionally filtered by a glob on name, domain or tag",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		catalog := skills.NewCatalog(appConfig.SkillsPath)
		list, err := catalog.List(filter)
		if err != nil {
			exitWithError(err, "Failed to list skills")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			printJSON(list)
			return
		}
		if len(list) == 0 {
			presenter.Info("No skills found")
			return
		}
		presenter.Table([]string{"NAME", "DOMAIN", "TAGS", "DESCRIPTION"}, skillRows(list))
	},
})

var skillDeleteCmd = withTracing(&cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !presenter.Confirm(fmt.Sprintf("Delete skill %s?", args[0])) {
			presenter.Info("Delete cancelled")
			return
		}
		if err := skills.NewCatalog(appConfig.SkillsPath).Delete(args[0]); err != nil {
			exitWithError(err, "Failed to delete skill")
		}
		presenter.Success(fmt.Sprintf("Deleted skill %s", args[0]))
	},
})

var skillRenameCmd = withTracing(&cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a skill",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		s, err := skills.NewCatalog(appConfig.SkillsPath).Rename(args[0], args[1])
		if err != nil {
			exitWithError(err, "Failed to rename skill")
		}
		presenter.Success(fmt.Sprintf("Renamed %s to %s", args[0], s.Name))
	},
})

var skillUpdateCmd = withTracing(&cobra.Command{
	Use:   "update <name>",
	Short: "Update the description, domain or tags of a skill",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		catalog := skills.NewCatalog(appConfig.SkillsPath)
		current, err := catalog.Get(args[0])
		if err != nil {
			exitWithError(err, "Failed to load skill")
		}

		md := skills.Metadata{
			Name:        current.Name,
			Description: current.Description,
			Domain:      current.Domain,
			Tags:        current.Tags,
		}
		if cmd.Flags().Changed("description") {
			md.Description, _ = cmd.Flags().GetString("description")
		}
		if cmd.Flags().Changed("domain") {
			md.Domain, _ = cmd.Flags().GetString("domain")
		}
		if cmd.Flags().Changed("tags") {
			md.Tags, _ = cmd.Flags().GetStringSlice("tags")
		}

		if _, err := catalog.UpdateMetadata(args[0], md); err != nil {
			exitWithError(err, "Failed to update skill")
		}
		presenter.Success(fmt.Sprintf("Updated skill %s", args[0]))
	},
})

var skillExportCmd = withTracing(&cobra.Command{
	Use:   "export <name>",
	Short: "Package a skill as a zip archive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dest, _ := cmd.Flags().GetString("output")
		excludes, _ := cmd.Flags().GetStringSlice("exclude")

		path, err := skills.NewCatalog(appConfig.SkillsPath).Export(args[0], dest, append(append([]string{}, skills.DefaultExcludes...), excludes...))
		if err != nil {
			exitWithError(err, "Failed to export skill")
		}
		presenter.Success(fmt.Sprintf("Exported %s to %s", args[0], path))
	},
})

var skillImportCmd = withTracing(&cobra.Command{
	Use:   "import <zip>",
	Short: "Install a skill from a zip archive",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		s, err := skills.NewCatalog(appConfig.SkillsPath).Import(args[0])
		if err != nil {
			exitWithError(err, "Failed to import skill")
		}
		presenter.Success(fmt.Sprintf("Imported skill %s", s.Name))
	},
})

func init() {
	skillListCmd.Flags().Bool("json", false, "Print JSON")
	skillDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	skillUpdateCmd.Flags().String("description", "", "New description")
	skillUpdateCmd.Flags().String("domain", "", "New domain")
	skillUpdateCmd.Flags().StringSlice("tags", nil, "New tags (comma separated)")
	skillExportCmd.Flags().StringP("output", "o", ".", "Directory to write the archive to")
	skillExportCmd.Flags().StringSlice("exclude", nil, "Extra glob patterns to leave out")

	skillCmd.AddCommand(skillListCmd, skillDeleteCmd, skillRenameCmd, skillUpdateCmd, skillExportCmd, skillImportCmd)
}

func skillRows(list []*skills.Skill) [][]string {
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		rows = append(rows, []string{s.Name, s.Domain, strings.Join(s.Tags, ","), truncateText(s.Description, 60)})
	}
	return rows
}
