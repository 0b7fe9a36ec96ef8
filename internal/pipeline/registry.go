package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Handle is the in-process view of one running session. The stop flag is
// advisory: the runner also re-reads the persisted StopRequested flag, so
// stop works across processes.
type Handle struct {
	SessionID string
	UserID    string
	StartedAt time.Time

	stopped atomic.Bool
}

// RequestStop sets the local cooperative stop flag.
func (h *Handle) RequestStop() {
	h.stopped.Store(true)
}

// Stopped reports whether a local stop was requested.
func (h *Handle) Stopped() bool {
	return h.stopped.Load()
}

// Registry tracks the sessions currently running in this process. It is
// used for liveness, introspection, and local stop delivery only, never for
// correctness-critical coordination.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Register inserts a handle for a starting session.
func (r *Registry) Register(sessionID, userID string) *Handle {
	handle := &Handle{
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	r.handles[sessionID] = handle
	r.mu.Unlock()

	return handle
}

// Remove drops a session's handle. Called in a defer when the session
// terminates, whatever the terminal state.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.handles, sessionID)
	r.mu.Unlock()
}

// Get returns the handle of a running session, or nil.
func (r *Registry) Get(sessionID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[sessionID]
}

// Active returns the ids of all sessions running in this process.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}
