// Package workflow implements the phase-gated coaching workflow: a fixed,
// totally ordered sequence of phases where moving forward requires the
// current phase's data to be valid and moving back restores earlier drafts.
//
// A Workflow belongs to a single user session and is not safe for concurrent
// use; callers serialize access.
package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

const (
	stateKey     = "workflow:state"
	recordPrefix = "phase:"
)

// AnswerStore persists workflow data as string values under keys.
type AnswerStore interface {
	Get(key string) (string, bool, error)
	Put(key, value string) error
}

// LifeWheelProvider reports a user's life-wheel ratings.
type LifeWheelProvider interface {
	GetLifeWheel(userID string) ([]models.LifeWheelArea, error)
}

// State is a snapshot of the workflow position.
type State struct {
	CurrentIndex int     `json:"current_index"`
	CurrentPhase Phase   `json:"current_phase"`
	Completed    []Phase `json:"completed"`
	Finished     bool    `json:"finished"`
}

// Transition describes the outcome of Advance or Retreat.
type Transition struct {
	Blocked   bool   `json:"blocked"`
	Reason    string `json:"reason,omitempty"`
	From      Phase  `json:"from"`
	To        Phase  `json:"to"`
	Completed bool   `json:"completed"`
}

// Opts configures a Workflow.
type Opts struct {
	LifeWheel  LifeWheelProvider
	OnComplete func(State)
}

// Option modifies Opts.
type Option func(*Opts)

// WithLifeWheel sets the provider queried by the life-wheel phase.
func WithLifeWheel(p LifeWheelProvider) Option {
	return func(o *Opts) {
		o.LifeWheel = p
	}
}

// WithCompletion sets the callback invoked when advancing past the final phase.
func WithCompletion(fn func(State)) Option {
	return func(o *Opts) {
		o.OnComplete = fn
	}
}

// Workflow is one user's run through the phases of a module.
type Workflow struct {
	userID    string
	moduleID  string
	answers   AnswerStore
	lifeWheel LifeWheelProvider
	onDone    func(State)

	index     int
	completed map[Phase]bool
	records   map[Phase]PhaseRecord
	draft     PhaseRecord
	finished  bool
}

type persistedState struct {
	CurrentIndex int     `json:"current_index"`
	Completed    []Phase `json:"completed"`
	Finished     bool    `json:"finished"`
}

// New creates a workflow for userID and moduleID, hydrated from answers.
// Missing keys yield a fresh workflow at the first phase.
func New(userID, moduleID string, answers AnswerStore, opts ...Option) (*Workflow, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &Workflow{
		userID:    userID,
		moduleID:  moduleID,
		answers:   answers,
		lifeWheel: cfg.LifeWheel,
		onDone:    cfg.OnComplete,
		completed: make(map[Phase]bool),
		records:   make(map[Phase]PhaseRecord),
	}
	if err := w.hydrate(); err != nil {
		return nil, err
	}
	slog.Debug("Workflow.New: ready", "userID", userID, "moduleID", moduleID, "phase", w.CurrentPhase(), "completed", len(w.completed))
	return w, nil
}

func (w *Workflow) hydrate() error {
	raw, ok, err := w.answers.Get(stateKey)
	if err != nil {
		return fmt.Errorf("%w: failed to load workflow state: %v", models.ErrPersistence, err)
	}
	if ok {
		var ps persistedState
		if err := json.Unmarshal([]byte(raw), &ps); err != nil {
			return fmt.Errorf("failed to decode workflow state: %w", err)
		}
		if ps.CurrentIndex < 0 || ps.CurrentIndex >= len(Phases) {
			return fmt.Errorf("%w: index %d", ErrUnknownPhase, ps.CurrentIndex)
		}
		for _, p := range ps.Completed {
			if _, err := ParsePhase(string(p)); err != nil {
				return err
			}
			w.completed[p] = true
		}
		w.index = ps.CurrentIndex
		w.finished = ps.Finished
	}

	for _, p := range Phases {
		raw, ok, err := w.answers.Get(recordPrefix + string(p))
		if err != nil {
			return fmt.Errorf("%w: failed to load record %s: %v", models.ErrPersistence, p, err)
		}
		if !ok {
			continue
		}
		var rec PhaseRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("failed to decode record %s: %w", p, err)
		}
		w.records[p] = rec
	}
	w.draft = w.records[w.CurrentPhase()].clone()
	return nil
}

// CurrentPhase returns the active phase.
func (w *Workflow) CurrentPhase() Phase {
	return Phases[w.index]
}

// State returns a snapshot of the workflow position.
func (w *Workflow) State() State {
	completed := []Phase{}
	for _, p := range Phases {
		if w.completed[p] {
			completed = append(completed, p)
		}
	}
	return State{
		CurrentIndex: w.index,
		CurrentPhase: w.CurrentPhase(),
		Completed:    completed,
		Finished:     w.finished,
	}
}

// Completed reports whether the final phase has been passed.
func (w *Workflow) Completed() bool {
	return w.finished
}

// Draft returns a copy of the data being edited in the current phase.
func (w *Workflow) Draft() PhaseRecord {
	return w.draft.clone()
}

// Record returns the stored record of p.
func (w *Workflow) Record(p Phase) (PhaseRecord, bool) {
	rec, ok := w.records[p]
	return rec.clone(), ok
}

// SetDraft replaces the current phase's free-text fields. Exchanges in rec
// are ignored; only RecordExchange adds them.
func (w *Workflow) SetDraft(rec PhaseRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	exchanges := w.draft.Exchanges
	w.draft = rec.clone()
	w.draft.Exchanges = exchanges
	return nil
}

// RecordExchange appends an answered analysis prompt to the draft.
func (w *Workflow) RecordExchange(e Exchange) error {
	if err := models.ValidateStatement(e.Statement); err != nil {
		return err
	}
	w.draft.Exchanges = append(w.draft.Exchanges, e)
	slog.Debug("Workflow.RecordExchange", "userID", w.userID, "phase", w.CurrentPhase(), "exchanges", len(w.draft.Exchanges))
	return nil
}

// Validate reports whether the current phase may be left forward, and the
// corrective message when it may not.
func (w *Workflow) Validate() (bool, string) {
	spec := phaseTable[w.CurrentPhase()]
	switch spec.rule {
	case ruleLifeWheel:
		if w.lifeWheel == nil {
			return false, lifeWheelUnavailable
		}
		areas, err := w.lifeWheel.GetLifeWheel(w.userID)
		if err != nil {
			slog.Warn("Workflow.Validate: life wheel unavailable", "userID", w.userID, "error", err)
			return false, lifeWheelUnavailable
		}
		for _, a := range areas {
			if a.Rated() {
				return true, ""
			}
		}
		return false, spec.message
	case ruleExchanges:
		if n := len(w.draft.Exchanges); n < MinExchanges {
			return false, fmt.Sprintf("%s (%d/%d)", spec.message, n, MinExchanges)
		}
	case ruleText:
		if !notBlank(w.draft.Text) {
			return false, spec.message
		}
	case ruleIncongruence:
		if !w.draft.Incongruence.Complete() {
			return false, spec.message
		}
	case ruleReflection:
		if !notBlank(w.draft.Reflection.KeyInsights) {
			return false, spec.message
		}
	}
	return true, ""
}

// Advance moves to the next phase if the current one is valid. From the final
// phase it invokes the completion callback instead. A blocked transition
// changes nothing. If the new position cannot be stored, the transition is
// kept and the error wraps models.ErrPersistence.
func (w *Workflow) Advance() (Transition, error) {
	from := w.CurrentPhase()
	if ok, reason := w.Validate(); !ok {
		slog.Info("Workflow.Advance: blocked", "userID", w.userID, "moduleID", w.moduleID, "phase", from, "reason", reason)
		return Transition{Blocked: true, Reason: reason, From: from, To: from}, nil
	}

	rec := w.draft.clone()
	w.records[from] = rec
	w.completed[from] = true

	t := Transition{From: from}
	if w.index == len(Phases)-1 {
		w.finished = true
		t.To = from
		t.Completed = true
	} else {
		w.index++
		w.draft = w.records[w.CurrentPhase()].clone()
		t.To = w.CurrentPhase()
	}
	slog.Debug("Workflow.Advance", "userID", w.userID, "moduleID", w.moduleID, "from", t.From, "to", t.To, "completed", t.Completed)

	err := w.persistRecord(from, rec)
	if err == nil {
		err = w.persistState()
	}
	if t.Completed && w.onDone != nil {
		w.onDone(w.State())
	}
	return t, err
}

// Retreat moves back one phase and restores that phase's record as the draft.
// Completed phases and records are left untouched; a finished workflow is
// reopened and finishes again when the final phase is passed once more.
func (w *Workflow) Retreat() (Transition, error) {
	from := w.CurrentPhase()
	if w.index == 0 {
		return Transition{Blocked: true, Reason: "Du bist bereits am Anfang.", From: from, To: from}, nil
	}
	w.index--
	w.finished = false
	w.draft = w.records[w.CurrentPhase()].clone()
	t := Transition{From: from, To: w.CurrentPhase()}
	slog.Debug("Workflow.Retreat", "userID", w.userID, "moduleID", w.moduleID, "from", t.From, "to", t.To)
	return t, w.persistState()
}

func (w *Workflow) persistRecord(p Phase, rec PhaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", p, err)
	}
	if err := w.answers.Put(recordPrefix+string(p), string(data)); err != nil {
		slog.Error("Workflow: failed to store record", "userID", w.userID, "phase", p, "error", err)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

func (w *Workflow) persistState() error {
	s := w.State()
	data, err := json.Marshal(persistedState{CurrentIndex: s.CurrentIndex, Completed: s.Completed, Finished: s.Finished})
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}
	if err := w.answers.Put(stateKey, string(data)); err != nil {
		slog.Error("Workflow: failed to store state", "userID", w.userID, "moduleID", w.moduleID, "error", err)
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}
