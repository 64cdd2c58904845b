// Package api provides HTTP handlers for MetaCoach endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MetaCoach/internal/coach"
	"github.com/BTreeMap/MetaCoach/internal/models"
	"github.com/BTreeMap/MetaCoach/internal/store"
	"github.com/BTreeMap/MetaCoach/internal/workflow"
)

const persistenceWarning = "Changes are active but could not be saved"

// workflowView is the JSON shape of a workflow.
type workflowView struct {
	State   workflow.State       `json:"state"`
	Draft   workflow.PhaseRecord `json:"draft"`
	Welcome *models.CoachMessage `json:"welcome,omitempty"`
}

// transitionView is the JSON shape of an advance or retreat.
type transitionView struct {
	Transition workflow.Transition `json:"transition"`
	Workflow   workflowView        `json:"workflow"`
}

// statementView is the JSON shape of a coached statement.
type statementView struct {
	Feedback coach.Feedback       `json:"feedback"`
	Draft    workflow.PhaseRecord `json:"draft"`
}

func viewOf(wf *workflow.Workflow) workflowView {
	return workflowView{State: wf.State(), Draft: wf.Draft()}
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AnalyzeRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		slog.Warn("Server.analyzeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.analyzeHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	level := req.CurrentLevel
	if level == 0 {
		level = models.MinLevel
	}

	fb, err := s.coach.Evaluate(r.Context(), coach.Audience{Context: req.UserContext}, req.Statement, level)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.AnalyzeResponse{
		Analysis:   fb.Analysis,
		Assessment: fb.Assessment,
		Message:    fb.Message,
	}))
}

func (s *Server) putLifeWheelHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	var req models.LifeWheelRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		slog.Warn("Server.putLifeWheelHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.SaveLifeWheel(userID, req.Areas); err != nil {
		slog.Error("Server.putLifeWheelHandler: failed to save", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save life wheel"))
		return
	}
	slog.Info("Server.putLifeWheelHandler: life wheel saved", "userID", userID, "areas", len(req.Areas))
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) getLifeWheelHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	areas, err := s.st.GetLifeWheel(userID)
	if err != nil {
		slog.Error("Server.getLifeWheelHandler: failed to load", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load life wheel"))
		return
	}
	if areas == nil {
		areas = []models.LifeWheelArea{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(areas))
}

// withWorkflow locks the session's workflow, hydrating it on first use, and
// runs fn while holding the lock.
func (s *Server) withWorkflow(w http.ResponseWriter, r *http.Request, fn func(userID, moduleID string, wf *workflow.Workflow)) {
	userID, moduleID := r.PathValue("user"), r.PathValue("module")
	e := s.workflows.entry(userID, moduleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wf == nil {
		wf, err := workflow.New(userID, moduleID, store.Answers(s.st, userID, moduleID),
			workflow.WithLifeWheel(s.st),
			workflow.WithCompletion(s.onWorkflowComplete(userID, moduleID)),
		)
		if err != nil {
			slog.Error("Server.withWorkflow: failed to open workflow", "userID", userID, "moduleID", moduleID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to open workflow"))
			return
		}
		e.wf = wf
	}
	fn(userID, moduleID, e.wf)
}

// onWorkflowComplete returns the completion callback. It runs outside any
// request.
func (s *Server) onWorkflowComplete(userID, moduleID string) func(workflow.State) {
	return func(st workflow.State) {
		slog.Info("Workflow completed", "userID", userID, "moduleID", moduleID, "completed", len(st.Completed))
		if s.sessions != nil {
			s.sessions.LogUsage(context.Background(), userID, "workflow_completed", map[string]string{"module": moduleID})
			s.sessions.End(userID, moduleID)
		}
	}
}

// resetWorkflowHandler discards a module's workflow, drafts and level so the
// user can start over.
func (s *Server) resetWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	userID, moduleID := r.PathValue("user"), r.PathValue("module")
	e := s.workflows.entry(userID, moduleID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := store.Answers(s.st, userID, moduleID).Clear(); err != nil {
		slog.Error("Server.resetWorkflowHandler: failed to clear answers", "userID", userID, "moduleID", moduleID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset workflow"))
		return
	}
	e.wf = nil
	if s.sessions != nil {
		s.sessions.End(userID, moduleID)
	}
	slog.Info("Server.resetWorkflowHandler: workflow reset", "userID", userID, "moduleID", moduleID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Workflow reset", nil))
}

func (s *Server) openWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OpenWorkflowRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		slog.Warn("Server.openWorkflowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.withWorkflow(w, r, func(userID, moduleID string, wf *workflow.Workflow) {
		view := viewOf(wf)
		welcome := s.coach.Welcome(r.Context(), userID, moduleID, req.UserContext)
		view.Welcome = &welcome
		writeJSONResponse(w, http.StatusOK, models.Success(view))
	})
}

func (s *Server) getWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	s.withWorkflow(w, r, func(_, _ string, wf *workflow.Workflow) {
		writeJSONResponse(w, http.StatusOK, models.Success(viewOf(wf)))
	})
}

func (s *Server) putDraftHandler(w http.ResponseWriter, r *http.Request) {
	var draft workflow.PhaseRecord
	if err := decodeJSONBody(r, &draft, false); err != nil {
		slog.Warn("Server.putDraftHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	s.withWorkflow(w, r, func(_, _ string, wf *workflow.Workflow) {
		if err := wf.SetDraft(draft); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(viewOf(wf)))
	})
}

func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StatementRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		slog.Warn("Server.statementHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	s.withWorkflow(w, r, func(userID, moduleID string, wf *workflow.Workflow) {
		fb, err := s.coach.Respond(r.Context(), userID, moduleID, req.Statement, req.UserContext)
		degraded := errors.Is(err, models.ErrPersistence)
		if err != nil && !degraded {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := wf.RecordExchange(workflow.Exchange{
			Statement: req.Statement,
			Reply:     fb.Message.Body,
			Patterns:  fb.Analysis.Patterns,
		}); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		view := statementView{Feedback: fb, Draft: wf.Draft()}
		if degraded {
			slog.Warn("Server.statementHandler: level not saved", "userID", userID, "moduleID", moduleID, "error", err)
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(persistenceWarning, view))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(view))
	})
}

func (s *Server) advanceHandler(w http.ResponseWriter, r *http.Request) {
	s.withWorkflow(w, r, func(_, _ string, wf *workflow.Workflow) {
		t, err := wf.Advance()
		writeTransition(w, t, err, wf)
	})
}

func (s *Server) retreatHandler(w http.ResponseWriter, r *http.Request) {
	s.withWorkflow(w, r, func(_, _ string, wf *workflow.Workflow) {
		t, err := wf.Retreat()
		writeTransition(w, t, err, wf)
	})
}

func writeTransition(w http.ResponseWriter, t workflow.Transition, err error, wf *workflow.Workflow) {
	view := transitionView{Transition: t, Workflow: viewOf(wf)}
	switch {
	case t.Blocked:
		writeJSONResponse(w, http.StatusConflict, models.Blocked(t.Reason, view))
	case errors.Is(err, models.ErrPersistence):
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(persistenceWarning, view))
	case err != nil:
		slog.Error("Server.writeTransition: transition failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Transition failed"))
	default:
		writeJSONResponse(w, http.StatusOK, models.Success(view))
	}
}
