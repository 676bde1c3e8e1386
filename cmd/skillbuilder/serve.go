package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/presenter"
	"github.com/jingkaihe/skillbuilder/pkg/server"
)

// ServeConfig holds configuration for the serve command
type ServeConfig struct {
	Host string
	Port int
}

// NewServeConfig creates a new ServeConfig with default values
func NewServeConfig() *ServeConfig {
	return &ServeConfig{
		Host: "127.0.0.1",
		Port: 7482,
	}
}

var serveCmd = withTracing(&cobra.Command{
	Use:   "serve",
	Short: "Start the local invoke API",
	Long: `Start a local HTTP server exposing the workflow as JSON commands at
POST /invoke/{command}, with /healthz and Prometheus /metrics. A UI shell
drives skillbuilder through this API.

Host and port default to serve.host and serve.port from the configuration.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		config := getServeConfigFromFlags(cmd)
		runServeCommand(ctx, config)
	},
})

func init() {
	defaults := NewServeConfig()
	serveCmd.Flags().String("host", defaults.Host, "Host to bind the invoke API to")
	serveCmd.Flags().Int("port", defaults.Port, "Port to bind the invoke API to")
}

// getServeConfigFromFlags extracts serve configuration from the loaded
// config and command flags. Flags win when set.
func getServeConfigFromFlags(cmd *cobra.Command) *ServeConfig {
	config := NewServeConfig()
	if appConfig != nil {
		if appConfig.Serve.Host != "" {
			config.Host = appConfig.Serve.Host
		}
		if appConfig.Serve.Port != 0 {
			config.Port = appConfig.Serve.Port
		}
	}

	if cmd.Flags().Changed("host") {
		config.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		config.Port, _ = cmd.Flags().GetInt("port")
	}
	return config
}

// validateServeConfig validates the serve configuration
func validateServeConfig(config *ServeConfig) error {
	if config.Host == "" {
		return errors.New("host cannot be empty")
	}

	if config.Host != "localhost" && config.Host != "0.0.0.0" {
		if ip := net.ParseIP(config.Host); ip == nil {
			if strings.Contains(config.Host, " ") || strings.Contains(config.Host, ":") {
				return errors.Errorf("invalid host: %s", config.Host)
			}
		}
	}

	if config.Port < 1 || config.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", config.Port)
	}

	if config.Port < 1024 {
		logger.G(context.Background()).WithField("port", config.Port).Warn("using privileged port (< 1024) may require elevated permissions")
	}
	return nil
}

// runServeCommand starts the invoke API
func runServeCommand(ctx context.Context, config *ServeConfig) {
	if err := validateServeConfig(config); err != nil {
		exitWithError(err, "invalid server configuration")
	}

	a := mustApp(ctx)
	defer func() {
		if err := a.Close(); err != nil {
			logger.G(ctx).WithError(err).Error("failed to shut down cleanly")
		}
	}()

	deps, err := a.serverDeps(ctx)
	if err != nil {
		exitWithError(err, "failed to initialize server")
	}
	srv, err := server.NewServer(server.Config{Host: config.Host, Port: config.Port}, deps)
	if err != nil {
		exitWithError(err, "failed to create server")
	}

	logger.G(ctx).WithFields(logrus.Fields{
		"host": config.Host,
		"port": config.Port,
	}).Info("starting invoke API")

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	presenter.Success(fmt.Sprintf("Invoke API listening on http://%s:%d", config.Host, config.Port))
	presenter.Info("Press Ctrl+C to stop the server")

	if err := srv.Start(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("invoke API error")
		presenter.Error(err, "invoke API failed")
		os.Exit(1)
	}

	presenter.Info("Invoke API stopped")
}
