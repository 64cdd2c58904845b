// Package api provides the HTTP server for MetaCoach.
//
// It exposes endpoints for stateless statement analysis, life-wheel ratings,
// and the phase-gated coaching workflow, and wires the store, GenAI client,
// analysis and coach packages together.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/analysis"
	"github.com/BTreeMap/MetaCoach/internal/coach"
	"github.com/BTreeMap/MetaCoach/internal/conversation"
	"github.com/BTreeMap/MetaCoach/internal/genai"
	"github.com/BTreeMap/MetaCoach/internal/scheduler"
	"github.com/BTreeMap/MetaCoach/internal/store"
)

// Default configuration constants
const (
	// DefaultAddr is the default API listen address
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultIdleTTL is how long an untouched workflow or coach session stays in memory
	DefaultIdleTTL = 30 * time.Minute
	// DefaultPruneSchedule is the cron schedule of the idle pruning job
	DefaultPruneSchedule = "*/5 * * * *"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	RemoteViaGenAI bool
	SessionTimeout time.Duration
	IdleTTL        time.Duration
	PruneSchedule  string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithRemoteAnalysisViaGenAI uses the GenAI client as remote analyzer when no
// analysis endpoint is configured.
func WithRemoteAnalysisViaGenAI(enabled bool) Option {
	return func(o *Opts) {
		o.RemoteViaGenAI = enabled
	}
}

// WithSessionTimeout bounds calls to the conversational service.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.SessionTimeout = d
	}
}

// WithIdlePruning sets how long idle in-memory state is kept and the cron
// schedule that prunes it.
func WithIdlePruning(ttl time.Duration, schedule string) Option {
	return func(o *Opts) {
		if ttl > 0 {
			o.IdleTTL = ttl
		}
		if schedule != "" {
			o.PruneSchedule = schedule
		}
	}
}

// Server holds all dependencies for the API server.
type Server struct {
	st        store.Store
	coach     *coach.Coach
	sessions  *coach.SessionManager
	workflows *registry
	addr      string
	idleTTL   time.Duration
	schedule  string
}

// NewServer creates a Server. sessions may be nil when no conversational
// service is configured.
func NewServer(st store.Store, c *coach.Coach, sessions *coach.SessionManager, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, IdleTTL: DefaultIdleTTL, PruneSchedule: DefaultPruneSchedule}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		st:        st,
		coach:     c,
		sessions:  sessions,
		workflows: newRegistry(),
		addr:      cfg.Addr,
		idleTTL:   cfg.IdleTTL,
		schedule:  cfg.PruneSchedule,
	}
}

// pruneIdle drops in-memory workflows and coach sessions untouched for idleTTL.
func (s *Server) pruneIdle() {
	workflows := s.workflows.prune(s.idleTTL)
	sessions := 0
	if s.sessions != nil {
		sessions = s.sessions.PruneIdle(s.idleTTL)
	}
	if workflows > 0 || sessions > 0 {
		slog.Info("Server.pruneIdle: released idle state", "workflows", workflows, "sessions", sessions)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /analyze", s.analyzeHandler)
	mux.HandleFunc("PUT /users/{user}/lifewheel", s.putLifeWheelHandler)
	mux.HandleFunc("GET /users/{user}/lifewheel", s.getLifeWheelHandler)
	mux.HandleFunc("POST /users/{user}/modules/{module}/workflow", s.openWorkflowHandler)
	mux.HandleFunc("GET /users/{user}/modules/{module}/workflow", s.getWorkflowHandler)
	mux.HandleFunc("DELETE /users/{user}/modules/{module}/workflow", s.resetWorkflowHandler)
	mux.HandleFunc("PUT /users/{user}/modules/{module}/workflow/draft", s.putDraftHandler)
	mux.HandleFunc("POST /users/{user}/modules/{module}/workflow/statements", s.statementHandler)
	mux.HandleFunc("POST /users/{user}/modules/{module}/workflow/advance", s.advanceHandler)
	mux.HandleFunc("POST /users/{user}/modules/{module}/workflow/retreat", s.retreatHandler)
	return withRequestLogging(mux)
}

// Run builds every module from its options and serves the API until SIGINT or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, remoteOpts []analysis.Option, orchOpts []analysis.OrchestratorOption, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	var genaiClient *genai.Client
	if gc, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("GenAI client not configured, coach wording uses local templates", "error", err)
	} else {
		genaiClient = gc
	}

	var remote analysis.RemoteAnalyzer
	if rc, err := analysis.NewRemoteClient(remoteOpts...); err == nil {
		remote = rc
		slog.Info("Remote analysis endpoint configured")
	} else if cfg.RemoteViaGenAI && genaiClient != nil {
		remote = analysis.NewGenAIRemote(genaiClient)
		slog.Info("Remote analysis via GenAI configured")
	} else {
		slog.Info("No remote analysis configured, using heuristic analysis only", "reason", err)
	}
	orchestrator := analysis.NewOrchestrator(remote, analysis.NewHeuristicAnalyzer(nil), orchOpts...)

	var sessions *coach.SessionManager
	if genaiClient != nil {
		var sessOpts []coach.SessionOption
		if cfg.SessionTimeout > 0 {
			sessOpts = append(sessOpts, coach.WithSessionTimeout(cfg.SessionTimeout))
		}
		sessions = coach.NewSessionManager(conversation.NewGenAIService(genaiClient, st), sessOpts...)
	}
	c := coach.NewCoach(orchestrator, coach.NewResponseBuilder(sessions), st)

	server := NewServer(st, c, sessions, apiOpts...)
	return server.ListenAndServe()
}

func openStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		st, err := store.NewPostgresStore(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	}
	slog.Info("Using SQLite store", "path", cfg.DSN)
	st, err := store.NewSQLiteStore(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return st, nil
}

// ListenAndServe serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob("prune-idle", s.schedule, s.pruneIdle); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("MetaCoach API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
