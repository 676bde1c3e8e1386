// Package config loads skillbuilder settings from viper. Values come from
// ~/.skillbuilder/config.yaml, ./config.yaml, SKILLBUILDER_* environment
// variables and CLI flags bound by cmd/skillbuilder.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// AgentConfig describes how the external agent process is launched.
type AgentConfig struct {
	Command      string   `mapstructure:"command"`
	Args         []string `mapstructure:"args"`
	Model        string   `mapstructure:"model"`
	MaxTurns     int      `mapstructure:"max_turns"`
	AllowedTools []string `mapstructure:"allowed_tools"`
}

// GitHubConfig holds the OAuth app and endpoints for device-flow login.
type GitHubConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	Scopes       []string `mapstructure:"scopes"`
	APIURL       string   `mapstructure:"api_url"`
	DeviceURL    string   `mapstructure:"device_url"`
	TokenURL     string   `mapstructure:"token_url"`
	FeedbackRepo string   `mapstructure:"feedback_repo"`
}

// ServeConfig configures the local invoke API.
type ServeConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TracingConfig mirrors telemetry.Config in a viper friendly shape.
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// Config is the fully resolved application configuration.
type Config struct {
	WorkspacePath string        `mapstructure:"workspace_path"`
	SkillsPath    string        `mapstructure:"skills_path"`
	DBPath        string        `mapstructure:"db_path"`
	SessionStore  string        `mapstructure:"session_store"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	Agent         AgentConfig   `mapstructure:"agent"`
	GitHub        GitHubConfig  `mapstructure:"github"`
	Serve         ServeConfig   `mapstructure:"serve"`
	Tracing       TracingConfig `mapstructure:"tracing"`
}

// BaseDir returns the per-user state directory. SKILLBUILDER_BASE_PATH
// overrides it, which the tests rely on.
func BaseDir() (string, error) {
	if base := os.Getenv("SKILLBUILDER_BASE_PATH"); base != "" {
		return base, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, ".skillbuilder"), nil
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace_path", "./workspace")
	v.SetDefault("skills_path", "./skills")
	v.SetDefault("session_store", "file")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.args", []string{"-p", "--output-format", "stream-json", "--verbose"})
	v.SetDefault("agent.model", "sonnet")
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.allowed_tools", []string{"Read", "Write", "Edit", "Glob", "Grep", "Bash"})
	v.SetDefault("github.scopes", []string{"repo", "read:user"})
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.device_url", "https://github.com/login/device/code")
	v.SetDefault("github.token_url", "https://github.com/login/oauth/access_token")
	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.port", 7482)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
}

// Init wires env and file lookup into v and reads the config file if one
// exists. A missing file is not an error.
func Init(v *viper.Viper) error {
	SetDefaults(v)

	v.SetEnvPrefix("SKILLBUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if base, err := BaseDir(); err == nil {
		v.AddConfigPath(base)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config file")
		}
	}
	return nil
}

// Load decodes v into a Config and fills in derived defaults.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if cfg.DBPath == "" {
		base, err := BaseDir()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = filepath.Join(base, "storage.db")
	}
	if cfg.Agent.MaxTurns <= 0 {
		cfg.Agent.MaxTurns = 50
	}

	return &cfg, cfg.Validate()
}

// Validate reports configuration that cannot work at all.
func (c *Config) Validate() error {
	if c.WorkspacePath == "" {
		return errors.New("workspace_path must be set")
	}
	if c.Agent.Command == "" {
		return errors.New("agent.command must be set")
	}
	if c.SessionStore != "" && c.SessionStore != "file" && c.SessionStore != "sqlite" {
		return errors.Errorf("session_store must be file or sqlite, got %q", c.SessionStore)
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return errors.Errorf("serve.port must be between 0 and 65535, got %d", c.Serve.Port)
	}
	return nil
}
