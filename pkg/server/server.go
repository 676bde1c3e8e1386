// Package server exposes the backend operations as a local HTTP API. Every
// command is a POST to /invoke/{command} with a JSON body, which lets a UI
// shell drive the workflow without linking Go code.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jingkaihe/skillbuilder/pkg/agent"
	"github.com/jingkaihe/skillbuilder/pkg/artifacts"
	"github.com/jingkaihe/skillbuilder/pkg/feedback"
	"github.com/jingkaihe/skillbuilder/pkg/gitsync"
	"github.com/jingkaihe/skillbuilder/pkg/logger"
	"github.com/jingkaihe/skillbuilder/pkg/reasoning"
	"github.com/jingkaihe/skillbuilder/pkg/runs"
	"github.com/jingkaihe/skillbuilder/pkg/skills"
	"github.com/jingkaihe/skillbuilder/pkg/workflow"
)

// AgentController starts and cancels agent runs.
type AgentController interface {
	Start(ctx context.Context, req agent.Request) (string, error)
	Cancel(runID string) bool
}

// GitClient syncs the workspace with its remote.
type GitClient interface {
	Pull(ctx context.Context, workspacePath, token string) (gitsync.PullResult, error)
	Push(ctx context.Context, workspacePath, token, message string) error
}

// FeedbackSubmitter records user feedback.
type FeedbackSubmitter interface {
	Submit(ctx context.Context, fb feedback.Feedback) (string, error)
}

// Deps are the collaborators behind the commands.
type Deps struct {
	Agents    AgentController
	Registry  *runs.Registry
	Engine    *workflow.Engine
	Artifacts *artifacts.Store
	Git       GitClient
	Catalog   *skills.Catalog
	Feedback  FeedbackSubmitter
	Sessions  reasoning.Store
	// Token returns the GitHub token for git operations. It may be nil.
	Token func(ctx context.Context) (string, error)
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Config holds the listen address.
type Config struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server is the invoke API server.
type Server struct {
	router   *mux.Router
	deps     Deps
	config   Config
	server   *http.Server
	commands map[string]command

	mu       sync.Mutex
	sessions map[string]*reasoning.Session
}

// NewServer creates a server. The returned server also works as an
// http.Handler, which the tests use.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:   mux.NewRouter(),
		deps:     deps,
		config:   cfg,
		sessions: make(map[string]*reasoning.Session),
	}
	s.commands = s.commandTable()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/invoke/{command}", s.handleInvoke).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.Use(s.loggingMiddleware)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rw.statusCode,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"ok":          true,
		"active_runs": s.deps.Registry != nil && s.deps.Registry.HasActive(),
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["command"]

	cmd, ok := s.commands[name]
	if !ok {
		s.writeError(ctx, w, http.StatusNotFound, errors.Errorf("unknown command %q", name))
		return
	}

	body := json.RawMessage("{}")
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&body); err != nil {
			s.writeError(ctx, w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
			return
		}
	}

	result, err := cmd(ctx, body)
	if err != nil {
		s.writeError(ctx, w, statusFor(err), err)
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, result)
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	entry := logger.G(ctx).WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("invoke failed")
	} else {
		entry.Debug("invoke rejected")
	}
	s.writeJSON(ctx, w, status, map[string]string{"error": err.Error()})
}

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.G(ctx).WithField("address", address).Info("invoke API listening")

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "invoke API server failed")
		}
		return nil
	case <-ctx.Done():
	}

	s.closeSessions()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop closes the listener immediately.
func (s *Server) Stop() error {
	s.closeSessions()
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
