package coach

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/conversation"
	"github.com/BTreeMap/MetaCoach/internal/models"
	"golang.org/x/sync/singleflight"
)

// DefaultSessionTimeout bounds every call to the conversational service.
const DefaultSessionTimeout = 10 * time.Second

// SessionOpts configures a SessionManager.
type SessionOpts struct {
	Timeout time.Duration
}

// SessionOption modifies SessionOpts.
type SessionOption func(*SessionOpts)

// WithSessionTimeout overrides DefaultSessionTimeout.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(o *SessionOpts) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// SessionManager owns the remote coaching sessions, one per user and module.
// It is safe for concurrent use.
type SessionManager struct {
	svc     conversation.Service
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]models.Session
	lastUsed map[string]time.Time
	group    singleflight.Group
	now      func() time.Time
}

// NewSessionManager creates a SessionManager backed by svc.
func NewSessionManager(svc conversation.Service, opts ...SessionOption) *SessionManager {
	cfg := SessionOpts{Timeout: DefaultSessionTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SessionManager{
		svc:      svc,
		timeout:  cfg.Timeout,
		sessions: make(map[string]models.Session),
		lastUsed: make(map[string]time.Time),
		now:      time.Now,
	}
}

func sessionKey(userID, moduleID string) string {
	return userID + "|" + moduleID
}

func (m *SessionManager) lookup(key string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if ok {
		m.lastUsed[key] = m.now()
	}
	return s, ok
}

// EnsureSession returns the session for userID and moduleID, starting a
// conversation on first use. Concurrent callers share a single start call.
func (m *SessionManager) EnsureSession(ctx context.Context, userID, moduleID string, userCtx *models.UserContext) (models.Session, error) {
	key := sessionKey(userID, moduleID)
	if s, ok := m.lookup(key); ok {
		return s, nil
	}

	v, err, shared := m.group.Do(key, func() (interface{}, error) {
		if s, ok := m.lookup(key); ok {
			return s, nil
		}
		// The start is shared, so one caller's cancellation must not fail the others.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		res, err := m.svc.StartConversation(callCtx, userID, moduleID, introPrompt(moduleID, userCtx))
		if err != nil {
			return models.Session{}, err
		}
		s := models.Session{
			SessionID:         res.SessionID,
			UserID:            userID,
			ModuleID:          moduleID,
			CachedUserContext: userCtx,
			Greeting:          res.Response,
		}
		m.mu.Lock()
		m.sessions[key] = s
		m.lastUsed[key] = m.now()
		m.mu.Unlock()
		slog.Debug("SessionManager.EnsureSession: session started", "userID", userID, "moduleID", moduleID, "sessionID", s.SessionID)
		return s, nil
	})
	if err != nil {
		slog.Warn("SessionManager.EnsureSession: start failed", "userID", userID, "moduleID", moduleID, "shared", shared, "error", err)
		return models.Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return v.(models.Session), nil
}

// Send continues the session's conversation.
func (m *SessionManager) Send(ctx context.Context, session models.Session, text string) (string, error) {
	if !session.Active() {
		return "", fmt.Errorf("session for module %s is not active", session.ModuleID)
	}
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.svc.SendMessage(callCtx, session.UserID, session.SessionID, text, session.ModuleID)
}

// LogUsage records a telemetry event. Failures are logged only.
func (m *SessionManager) LogUsage(ctx context.Context, userID, eventName string, metadata map[string]string) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.svc.LogServiceUsage(callCtx, userID, eventName, metadata); err != nil {
		slog.Warn("SessionManager.LogUsage: failed", "userID", userID, "event", eventName, "error", err)
	}
}

// End forgets the session so the next exercise attempt starts a new conversation.
func (m *SessionManager) End(userID, moduleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(userID, moduleID)
	delete(m.sessions, key)
	delete(m.lastUsed, key)
}

// PruneIdle forgets sessions not used within maxIdle and returns how many were dropped.
func (m *SessionManager) PruneIdle(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for key, used := range m.lastUsed {
		if used.Before(cutoff) {
			delete(m.sessions, key)
			delete(m.lastUsed, key)
			pruned++
		}
	}
	if pruned > 0 {
		slog.Debug("SessionManager.PruneIdle: dropped idle sessions", "count", pruned, "remaining", len(m.sessions))
	}
	return pruned
}

func introPrompt(moduleID string, userCtx *models.UserContext) string {
	prompt := fmt.Sprintf("Ich beginne das Modul %q. Begrüße mich kurz und erkläre in einem Satz, worum es geht.", moduleID)
	if summary := userCtx.Summary(); summary != "" {
		prompt += "\n\nÜber mich:\n" + summary
	}
	return prompt
}
