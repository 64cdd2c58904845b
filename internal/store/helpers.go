package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	name    string
	dollars bool
}

// rebind rewrites '?' placeholders into $n for PostgreSQL.
func (s *sqlStore) rebind(query string) string {
	if !s.dollars {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) GetAnswer(userID, moduleID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(s.rebind(`SELECT value FROM answers WHERE user_id = ? AND module_id = ? AND answer_key = ?`),
		userID, moduleID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		slog.Error(s.name+" GetAnswer failed", "error", err, "userID", userID, "moduleID", moduleID, "key", key)
		return "", false, fmt.Errorf("failed to read answer %s: %w", key, err)
	}
	return value, true, nil
}

func (s *sqlStore) PutAnswer(userID, moduleID, key, value string) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO answers (user_id, module_id, answer_key, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, module_id, answer_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		userID, moduleID, key, value, time.Now().UTC())
	if err != nil {
		slog.Error(s.name+" PutAnswer failed", "error", err, "userID", userID, "moduleID", moduleID, "key", key)
		return fmt.Errorf("failed to write answer %s: %w", key, err)
	}
	slog.Debug(s.name+" PutAnswer succeeded", "userID", userID, "moduleID", moduleID, "key", key)
	return nil
}

func (s *sqlStore) DeleteAnswers(userID, moduleID string) error {
	_, err := s.db.Exec(s.rebind(`DELETE FROM answers WHERE user_id = ? AND module_id = ?`), userID, moduleID)
	if err != nil {
		slog.Error(s.name+" DeleteAnswers failed", "error", err, "userID", userID, "moduleID", moduleID)
		return fmt.Errorf("failed to delete answers: %w", err)
	}
	return nil
}

func (s *sqlStore) GetLifeWheel(userID string) ([]models.LifeWheelArea, error) {
	rows, err := s.db.Query(s.rebind(`SELECT name, current_value, target_value FROM life_wheel_areas WHERE user_id = ? ORDER BY position`), userID)
	if err != nil {
		slog.Error(s.name+" GetLifeWheel query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query life wheel: %w", err)
	}
	defer rows.Close()

	areas := []models.LifeWheelArea{}
	for rows.Next() {
		var a models.LifeWheelArea
		if err := rows.Scan(&a.Name, &a.CurrentValue, &a.TargetValue); err != nil {
			slog.Error(s.name+" GetLifeWheel scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan life wheel row: %w", err)
		}
		areas = append(areas, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate life wheel rows: %w", err)
	}
	return areas, nil
}

func (s *sqlStore) SaveLifeWheel(userID string, areas []models.LifeWheelArea) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.rebind(`DELETE FROM life_wheel_areas WHERE user_id = ?`), userID); err != nil {
		slog.Error(s.name+" SaveLifeWheel delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to clear life wheel: %w", err)
	}
	for i, a := range areas {
		if _, err := tx.Exec(s.rebind(`INSERT INTO life_wheel_areas (user_id, position, name, current_value, target_value) VALUES (?, ?, ?, ?, ?)`),
			userID, i, a.Name, a.CurrentValue, a.TargetValue); err != nil {
			slog.Error(s.name+" SaveLifeWheel insert failed", "error", err, "userID", userID, "area", a.Name)
			return fmt.Errorf("failed to insert life wheel area %s: %w", a.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit life wheel: %w", err)
	}
	slog.Debug(s.name+" SaveLifeWheel succeeded", "userID", userID, "areas", len(areas))
	return nil
}

func (s *sqlStore) SaveConversation(rec ConversationRecord) error {
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO conversations (session_id, user_id, conversation_type, history_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET history_json = excluded.history_json, updated_at = excluded.updated_at`),
		rec.SessionID, rec.UserID, rec.ConversationType, rec.HistoryJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		slog.Error(s.name+" SaveConversation failed", "error", err, "sessionID", rec.SessionID)
		return fmt.Errorf("failed to save conversation %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *sqlStore) GetConversation(sessionID string) (*ConversationRecord, error) {
	var rec ConversationRecord
	err := s.db.QueryRow(s.rebind(`
		SELECT session_id, user_id, conversation_type, history_json, created_at, updated_at
		FROM conversations WHERE session_id = ?`), sessionID).Scan(
		&rec.SessionID, &rec.UserID, &rec.ConversationType, &rec.HistoryJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error(s.name+" GetConversation failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to read conversation %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *sqlStore) AddUsageEvent(e UsageEvent) error {
	_, err := s.db.Exec(s.rebind(`INSERT INTO usage_events (user_id, event_name, metadata_json, created_at) VALUES (?, ?, ?, ?)`),
		e.UserID, e.EventName, nilIfEmpty(e.MetadataJSON), e.CreatedAt)
	if err != nil {
		slog.Error(s.name+" AddUsageEvent failed", "error", err, "userID", e.UserID, "event", e.EventName)
		return fmt.Errorf("failed to insert usage event: %w", err)
	}
	return nil
}

func (s *sqlStore) GetUsageEvents(userID string) ([]UsageEvent, error) {
	rows, err := s.db.Query(s.rebind(`SELECT user_id, event_name, metadata_json, created_at FROM usage_events WHERE user_id = ? ORDER BY created_at, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []UsageEvent
	for rows.Next() {
		var e UsageEvent
		var metadata sql.NullString
		if err := rows.Scan(&e.UserID, &e.EventName, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		e.MetadataJSON = metadata.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close "+s.name+" database", "error", err)
	}
	return err
}
