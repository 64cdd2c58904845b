// Package conversation provides the remote conversational coaching service:
// starting a coaching dialogue, continuing it, and recording usage telemetry.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/store"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

const (
	// maxHistoryLength bounds the stored history per session.
	maxHistoryLength = 50
	// maxPromptMessages bounds how much history is sent with each request.
	maxPromptMessages = 30
)

// ErrUnknownSession is returned when a session id does not belong to the user.
var ErrUnknownSession = errors.New("unknown conversation session")

// StartResult is the outcome of StartConversation.
type StartResult struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response,omitempty"`
}

// Service is the conversational AI contract used by the coach.
type Service interface {
	StartConversation(ctx context.Context, userID, conversationType, introPrompt string) (StartResult, error)
	SendMessage(ctx context.Context, userID, sessionID, text, conversationType string) (string, error)
	LogServiceUsage(ctx context.Context, userID, eventName string, metadata map[string]string) error
}

// Generator produces an assistant reply from a message list.
type Generator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Message is a single entry in the conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// History is the stored conversation history of a session.
type History struct {
	Messages []Message `json:"messages"`
}

// sessionLock serializes turns of one session. refs counts holders and
// waiters so the entry can be dropped when nobody uses it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// GenAIService implements Service on top of a chat model and a store.
type GenAIService struct {
	gen Generator
	st  store.Store
	now func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// NewGenAIService creates a GenAIService.
func NewGenAIService(gen Generator, st store.Store) *GenAIService {
	return &GenAIService{gen: gen, st: st, now: time.Now, locks: make(map[string]*sessionLock)}
}

func (s *GenAIService) lock(sessionID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.locksMu.Unlock()
	}
}

// lockCount returns the number of sessions with a pending or running turn.
func (s *GenAIService) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

// StartConversation opens a new session and returns the coach's greeting.
func (s *GenAIService) StartConversation(ctx context.Context, userID, conversationType, introPrompt string) (StartResult, error) {
	sessionID := uuid.NewString()
	slog.Debug("GenAIService.StartConversation: starting", "userID", userID, "type", conversationType, "sessionID", sessionID)

	now := s.now().UTC()
	history := &History{Messages: []Message{{Role: "user", Content: introPrompt, Timestamp: now}}}
	reply, err := s.gen.GenerateWithMessages(ctx, s.buildMessages(conversationType, history))
	if err != nil {
		slog.Warn("GenAIService.StartConversation: generation failed", "userID", userID, "error", err)
		return StartResult{}, fmt.Errorf("failed to start conversation: %w", err)
	}
	history.Messages = append(history.Messages, Message{Role: "assistant", Content: reply, Timestamp: s.now().UTC()})

	rec := store.ConversationRecord{
		SessionID:        sessionID,
		UserID:           userID,
		ConversationType: conversationType,
		CreatedAt:        now,
	}
	if err := s.save(&rec, history); err != nil {
		return StartResult{}, err
	}
	slog.Info("GenAIService.StartConversation: session started", "userID", userID, "sessionID", sessionID)
	return StartResult{SessionID: sessionID, Response: reply}, nil
}

// SendMessage continues a session and returns the coach's reply.
func (s *GenAIService) SendMessage(ctx context.Context, userID, sessionID, text, conversationType string) (string, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	rec, err := s.st.GetConversation(sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}
	if rec == nil || rec.UserID != userID {
		return "", fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if conversationType == "" {
		conversationType = rec.ConversationType
	}

	history := decodeHistory(rec.HistoryJSON)
	history.Messages = append(history.Messages, Message{Role: "user", Content: text, Timestamp: s.now().UTC()})

	reply, err := s.gen.GenerateWithMessages(ctx, s.buildMessages(conversationType, history))
	if err != nil {
		slog.Warn("GenAIService.SendMessage: generation failed", "userID", userID, "sessionID", sessionID, "error", err)
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	history.Messages = append(history.Messages, Message{Role: "assistant", Content: reply, Timestamp: s.now().UTC()})

	if err := s.save(rec, history); err != nil {
		return "", err
	}
	return reply, nil
}

// LogServiceUsage records a telemetry event.
func (s *GenAIService) LogServiceUsage(ctx context.Context, userID, eventName string, metadata map[string]string) error {
	var metaJSON string
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode usage metadata: %w", err)
		}
		metaJSON = string(data)
	}
	return s.st.AddUsageEvent(store.UsageEvent{
		UserID:       userID,
		EventName:    eventName,
		MetadataJSON: metaJSON,
		CreatedAt:    s.now().UTC(),
	})
}

func (s *GenAIService) save(rec *store.ConversationRecord, history *History) error {
	if len(history.Messages) > maxHistoryLength {
		history.Messages = history.Messages[len(history.Messages)-maxHistoryLength:]
		slog.Debug("GenAIService: trimmed history", "sessionID", rec.SessionID, "maxLength", maxHistoryLength)
	}
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	rec.HistoryJSON = string(data)
	rec.UpdatedAt = s.now().UTC()
	if err := s.st.SaveConversation(*rec); err != nil {
		return fmt.Errorf("failed to save conversation history: %w", err)
	}
	return nil
}

func decodeHistory(raw string) *History {
	history := &History{Messages: []Message{}}
	if raw == "" {
		return history
	}
	if err := json.Unmarshal([]byte(raw), history); err != nil {
		slog.Error("GenAIService: failed to parse conversation history", "error", err)
		return &History{Messages: []Message{}}
	}
	return history
}

func (s *GenAIService) buildMessages(conversationType string, history *History) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt(conversationType))}

	recent := history.Messages
	if len(recent) > maxPromptMessages {
		recent = recent[len(recent)-maxPromptMessages:]
	}
	for _, msg := range recent {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}
	return messages
}
