package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// DefaultRemoteTimeout bounds a single remote analysis call.
const DefaultRemoteTimeout = 5 * time.Second

var errNoRemote = errors.New("no remote analyzer configured")

// Orchestrator runs remote analysis with a local heuristic fallback.
type Orchestrator struct {
	remote    RemoteAnalyzer
	heuristic *HeuristicAnalyzer
	timeout   time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTimeout sets the remote call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewOrchestrator creates an Orchestrator. remote may be nil, in which case every call falls back.
func NewOrchestrator(remote RemoteAnalyzer, heuristic *HeuristicAnalyzer, opts ...OrchestratorOption) *Orchestrator {
	if heuristic == nil {
		heuristic = NewHeuristicAnalyzer(nil)
	}
	o := &Orchestrator{remote: remote, heuristic: heuristic, timeout: DefaultRemoteTimeout}
	for _, opt := range opts {
		opt(o)
	}
	slog.Debug("Orchestrator created", "hasRemote", remote != nil, "timeout", o.timeout)
	return o
}

// Analyze never fails. A remote error, timeout or empty remote result yields
// the heuristic result with UsedFallback set.
func (o *Orchestrator) Analyze(ctx context.Context, statement string, level models.ProficiencyLevel) models.AnalysisResult {
	result, err := o.callRemote(ctx, statement)
	if err == nil && len(result.Patterns) > 0 {
		slog.Debug("Orchestrator.Analyze: remote analysis succeeded", "patterns", len(result.Patterns))
		result.UsedFallback = false
		return result
	}

	if err != nil {
		kind, _ := IsRemoteError(err)
		slog.Warn("Orchestrator.Analyze: remote analysis failed, using heuristic", "error", err, "kind", kind)
	} else {
		// An empty remote verdict is not trusted; the heuristic gets the final word.
		slog.Warn("Orchestrator.Analyze: remote analysis returned no patterns, using heuristic")
	}

	fallback := o.heuristic.Analyze(statement, level)
	fallback.UsedFallback = true
	return fallback
}

func (o *Orchestrator) callRemote(ctx context.Context, statement string) (result models.AnalysisResult, err error) {
	if o.remote == nil {
		return models.AnalysisResult{}, unavailable(errNoRemote)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Orchestrator.callRemote: remote analyzer panicked", "panic", r)
			result, err = models.AnalysisResult{}, unavailable(fmt.Errorf("remote analyzer panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.remote.AnalyzeRemote(ctx, statement)
}
