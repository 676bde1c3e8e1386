package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillbuilder/pkg/config"
	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
)

var (
	appConfig       *config.Config
	shutdownTracing = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "skillbuilder",
	Short: "Build agent skills through a guided research workflow",
	Long: `skillbuilder drives the Skill Builder workflow from the terminal: research,
clarification review, detailed research, decision confirmation and skill generation.
Each agent step runs as an external agent process whose progress is tracked locally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := logger.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
			return err
		}
		appConfig = cfg

		shutdown, err := initTracing(cmd.Context(), cfg)
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func init() {
	if err := config.Init(viper.GetViper()); err != nil {
		presenter.Error(err, "Failed to load configuration")
		os.Exit(1)
	}

	flags := rootCmd.PersistentFlags()
	flags.String("workspace", "", "Workspace directory holding skill working files")
	flags.String("skills-path", "", "Directory holding finished skills")
	flags.String("log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "", "Log format (fmt or json)")
	flags.String("model", "", "Agent model (overrides config)")
	flags.Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")

	viper.BindPFlag("workspace_path", flags.Lookup("workspace"))
	viper.BindPFlag("skills_path", flags.Lookup("skills-path"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("agent.model", flags.Lookup("model"))
	viper.BindPFlag("tracing.enabled", flags.Lookup("tracing-enabled"))

	rootCmd.AddCommand(
		loginCmd,
		logoutCmd,
		sessionCmd,
		gateCmd,
		runsCmd,
		decisionsCmd,
		skillCmd,
		stepCmd,
		gitCmd,
		feedbackCmd,
		serveCmd,
		versionCmd,
	)
}

func main() {
	ctx := context.Background()
	err := rootCmd.ExecuteContext(ctx)
	if shutdownErr := shutdownTracing(ctx); shutdownErr != nil {
		logger.G(ctx).WithError(shutdownErr).Warn("failed to flush traces")
	}
	if err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
