// Package store provides storage backends for MetaCoach.
//
// It includes an in-memory store for tests and single-process use, plus
// SQLite and PostgreSQL stores for durable answers, life-wheel ratings,
// conversation histories and usage events.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// Opts holds configuration for persistent stores.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// ConversationRecord is the persisted state of one remote coaching conversation.
type ConversationRecord struct {
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"user_id"`
	ConversationType string    `json:"conversation_type"`
	HistoryJSON      string    `json:"history_json"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UsageEvent is one telemetry entry.
type UsageEvent struct {
	UserID       string    `json:"user_id"`
	EventName    string    `json:"event_name"`
	MetadataJSON string    `json:"metadata_json,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// GetAnswer returns the value stored under key for a user's module, and whether it exists.
	GetAnswer(userID, moduleID, key string) (string, bool, error)
	// PutAnswer creates or overwrites a value.
	PutAnswer(userID, moduleID, key, value string) error
	// DeleteAnswers removes every answer of a user's module.
	DeleteAnswers(userID, moduleID string) error

	GetLifeWheel(userID string) ([]models.LifeWheelArea, error)
	SaveLifeWheel(userID string, areas []models.LifeWheelArea) error

	SaveConversation(rec ConversationRecord) error
	// GetConversation returns nil when no conversation exists.
	GetConversation(sessionID string) (*ConversationRecord, error)

	AddUsageEvent(e UsageEvent) error
	GetUsageEvents(userID string) ([]UsageEvent, error)

	Close() error
}

type answerKey struct {
	userID, moduleID, key string
}

// InMemoryStore is a simple in-memory store, safe for concurrent use.
type InMemoryStore struct {
	mu            sync.RWMutex
	answers       map[answerKey]string
	lifeWheels    map[string][]models.LifeWheelArea
	conversations map[string]ConversationRecord
	usage         []UsageEvent
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		answers:       make(map[answerKey]string),
		lifeWheels:    make(map[string][]models.LifeWheelArea),
		conversations: make(map[string]ConversationRecord),
	}
}

func (s *InMemoryStore) GetAnswer(userID, moduleID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.answers[answerKey{userID, moduleID, key}]
	return v, ok, nil
}

func (s *InMemoryStore) PutAnswer(userID, moduleID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[answerKey{userID, moduleID, key}] = value
	return nil
}

func (s *InMemoryStore) DeleteAnswers(userID, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.answers {
		if k.userID == userID && k.moduleID == moduleID {
			delete(s.answers, k)
		}
	}
	return nil
}

func (s *InMemoryStore) GetLifeWheel(userID string) ([]models.LifeWheelArea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	areas := s.lifeWheels[userID]
	out := make([]models.LifeWheelArea, len(areas))
	copy(out, areas)
	return out, nil
}

func (s *InMemoryStore) SaveLifeWheel(userID string, areas []models.LifeWheelArea) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]models.LifeWheelArea, len(areas))
	copy(stored, areas)
	s.lifeWheels[userID] = stored
	return nil
}

func (s *InMemoryStore) SaveConversation(rec ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[rec.SessionID] = rec
	return nil
}

func (s *InMemoryStore) GetConversation(sessionID string) (*ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conversations[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) AddUsageEvent(e UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, e)
	return nil
}

func (s *InMemoryStore) GetUsageEvents(userID string) ([]UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []UsageEvent
	for _, e := range s.usage {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
