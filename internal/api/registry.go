package api

import (
	"sync"
	"time"

	"github.com/BTreeMap/MetaCoach/internal/workflow"
)

// workflowEntry guards one user's workflow for a module. Handlers hold mu for
// the whole request so transitions of one session are serialized.
type workflowEntry struct {
	mu       sync.Mutex
	wf       *workflow.Workflow
	lastUsed time.Time
}

type registry struct {
	mu      sync.Mutex
	entries map[string]*workflowEntry
	now     func() time.Time
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*workflowEntry), now: time.Now}
}

// entry returns the entry for userID and moduleID, creating an empty one.
func (r *registry) entry(userID, moduleID string) *workflowEntry {
	key := userID + "|" + moduleID
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &workflowEntry{}
		r.entries[key] = e
	}
	e.lastUsed = r.now()
	return e
}

// prune drops entries idle for longer than maxIdle. Workflows are rehydrated
// from the store on next use; entries held by a request are skipped.
func (r *registry) prune(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for key, e := range r.entries {
		if !e.lastUsed.Before(cutoff) || !e.mu.TryLock() {
			continue
		}
		delete(r.entries, key)
		e.mu.Unlock()
		pruned++
	}
	return pruned
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
