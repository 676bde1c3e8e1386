package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jingkaihe/skillbuilder/pkg/agent"
	"github.com/jingkaihe/skillbuilder/pkg/artifacts"
	"github.com/jingkaihe/skillbuilder/pkg/auth"
	"github.com/jingkaihe/skillbuilder/pkg/config"
	"github.com/jingkaihe/skillbuilder/pkg/db"
	"github.com/jingkaihe/skillbuilder/pkg/db/migrations"
	"github.com/jingkaihe/skillbuilder/pkg/feedback"
	"github.com/jingkaihe/skillbuilder/pkg/gitsync"
	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/reasoning"
	"github.com/jingkaihe/skillbuilder/pkg/runs"
	"github.com/jingkaihe/skillbuilder/pkg/server"
	"github.com/jingkaihe/skillbuilder/pkg/skills"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

const (
	sessionStoreFile   = "file"
	sessionStoreSQLite = "sqlite"
)

// app holds the components a command needs, built from the loaded config.
type app struct {
	cfg       *config.Config
	conn      *sqlx.DB
	runStore  *runs.SQLStore
	registry  *runs.Registry
	runner    *agent.Runner
	engine    *workflow.Engine
	artifacts *artifacts.Store
	catalog   *skills.Catalog
	git       *gitsync.Client
	sessions  reasoning.Store
}

// newApp opens the database and wires every component.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	conn, err := db.OpenAndMigrate(ctx, cfg.DBPath, migrations.All())
	if err != nil {
		return nil, err
	}

	runStore := runs.NewSQLStore(conn)
	registry := runs.NewRegistry(
		runs.WithStore(runStore),
		runs.WithMetrics(runs.NewMetrics(prometheus.DefaultRegisterer)),
	)
	runner := agent.NewRunner(agent.Config{
		Command:      cfg.Agent.Command,
		Args:         cfg.Agent.Args,
		Model:        cfg.Agent.Model,
		MaxTurns:     cfg.Agent.MaxTurns,
		AllowedTools: cfg.Agent.AllowedTools,
	}, registry)

	a := &app{
		cfg:       cfg,
		conn:      conn,
		runStore:  runStore,
		registry:  registry,
		runner:    runner,
		engine:    workflow.NewEngine(runner),
		artifacts: artifacts.NewStore(cfg.WorkspacePath),
		catalog:   skills.NewCatalog(cfg.SkillsPath),
		git:       gitsync.New(),
	}

	switch cfg.SessionStore {
	case sessionStoreSQLite:
		a.sessions = reasoning.NewSQLStore(conn)
	default:
		a.sessions = reasoning.NewFileStore(cfg.WorkspacePath)
	}

	logger.G(ctx).WithField("db", cfg.DBPath).Debug("application initialized")
	return a, nil
}

// session loads the persisted reasoning session of skillName.
func (a *app) session(ctx context.Context, skillName string) (*reasoning.Session, error) {
	if _, err := a.artifacts.Resolve(skillName, ""); err != nil {
		return nil, err
	}
	s := reasoning.NewSession(skillName, a.sessions, reasoning.WithWorkspace(a.cfg.WorkspacePath))
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// token returns the stored GitHub token.
func (a *app) token(_ context.Context) (string, error) {
	path, err := auth.CredentialsPath()
	if err != nil {
		return "", err
	}
	creds, err := auth.LoadCredentials(path)
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}

// feedbackService stores feedback in the local outbox and files issues when
// a feedback repository is configured and the user is logged in.
func (a *app) feedbackService(ctx context.Context) (*feedback.Service, error) {
	outbox, err := feedback.DefaultOutboxPath()
	if err != nil {
		return nil, err
	}

	var opts []feedback.Option
	if repo := a.cfg.GitHub.FeedbackRepo; repo != "" {
		token, err := a.token(ctx)
		switch {
		case err == nil:
			issues, err := feedback.NewGitHubIssues(ctx, a.cfg.GitHub.APIURL, repo, token, &http.Client{Timeout: 30 * time.Second})
			if err != nil {
				return nil, err
			}
			opts = append(opts, feedback.WithIssueCreator(issues))
		case errors.Is(err, auth.ErrNotLoggedIn):
			logger.G(ctx).Debug("not logged in, feedback is stored locally only")
		default:
			return nil, err
		}
	}
	return feedback.NewService(outbox, opts...), nil
}

// serverDeps collects the collaborators of the invoke API.
func (a *app) serverDeps(ctx context.Context) (server.Deps, error) {
	fb, err := a.feedbackService(ctx)
	if err != nil {
		return server.Deps{}, err
	}
	return server.Deps{
		Agents:    a.runner,
		Registry:  a.registry,
		Engine:    a.engine,
		Artifacts: a.artifacts,
		Git:       a.git,
		Catalog:   a.catalog,
		Feedback:  fb,
		Sessions:  a.sessions,
		Token:     a.token,
		Gatherer:  prometheus.DefaultGatherer,
	}, nil
}

// Close cancels in-flight runs and closes the database.
func (a *app) Close() error {
	var result error
	if n := a.runner.CancelAll(); n > 0 {
		logger.G(context.Background()).WithField("runs", n).Info("cancelled running agents")
	}
	if err := a.conn.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "failed to close database"))
	}
	return result
}

// mustApp builds the app or exits.
func mustApp(ctx context.Context) *app {
	a, err := newApp(ctx, appConfig)
	if err != nil {
		exitWithError(err, "Failed to initialize")
	}
	return a
}
