package store

// ScopedAnswers exposes one user's module answers as a plain key-value store.
type ScopedAnswers struct {
	st       Store
	userID   string
	moduleID string
}

// Answers scopes st to a user's module.
func Answers(st Store, userID, moduleID string) *ScopedAnswers {
	return &ScopedAnswers{st: st, userID: userID, moduleID: moduleID}
}

// Get returns the value for key and whether it exists.
func (a *ScopedAnswers) Get(key string) (string, bool, error) {
	return a.st.GetAnswer(a.userID, a.moduleID, key)
}

// Put stores value under key.
func (a *ScopedAnswers) Put(key, value string) error {
	return a.st.PutAnswer(a.userID, a.moduleID, key, value)
}

// Clear removes every answer of the user's module.
func (a *ScopedAnswers) Clear() error {
	return a.st.DeleteAnswers(a.userID, a.moduleID)
}
