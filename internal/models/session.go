package models

import "strings"

// UserContext describes the user for prompt enrichment. The core never mutates it.
type UserContext struct {
	Name            string   `json:"name"`
	MainChallenge   string   `json:"main_challenge"`
	ExperienceLevel string   `json:"experience_level"`
	LifeAreas       []string `json:"life_areas,omitempty"`
}

// Summary renders the context as a short prompt fragment.
func (u *UserContext) Summary() string {
	if u == nil {
		return ""
	}
	var b strings.Builder
	if u.Name != "" {
		b.WriteString("Name: " + u.Name + "\n")
	}
	if u.MainChallenge != "" {
		b.WriteString("Hauptherausforderung: " + u.MainChallenge + "\n")
	}
	if u.ExperienceLevel != "" {
		b.WriteString("Erfahrung: " + u.ExperienceLevel + "\n")
	}
	if len(u.LifeAreas) > 0 {
		b.WriteString("Lebensbereiche: " + strings.Join(u.LifeAreas, ", ") + "\n")
	}
	return b.String()
}

// Session is the handle on a remote coaching conversation for one user and module.
type Session struct {
	SessionID         string       `json:"session_id,omitempty"`
	UserID            string       `json:"user_id,omitempty"`
	ModuleID          string       `json:"module_id"`
	CachedUserContext *UserContext `json:"cached_user_context,omitempty"`
	// Greeting is the first reply returned when the conversation was started.
	Greeting string `json:"greeting,omitempty"`
}

// Active reports whether the session is bound to a remote conversation.
func (s Session) Active() bool {
	return s.SessionID != ""
}

// LifeWheelArea is one area of the user's life wheel. Values run from 1 to
// MaxLifeWheelValue; 0 means the area is listed but not rated yet.
type LifeWheelArea struct {
	Name         string `json:"name"`
	CurrentValue int    `json:"current_value"`
	TargetValue  int    `json:"target_value"`
}

// Rated reports whether the user has given the area a rating.
func (a LifeWheelArea) Rated() bool {
	return a.CurrentValue > 0
}
