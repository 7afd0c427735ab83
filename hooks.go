package reclaim

import (
	"sync"

	"github.com/agentstation/reclaim/pkg/recovery"
)

// Hook function types for recovery events. Hooks run on executor worker
// goroutines and must be safe for concurrent use.
type (
	// CommittedHook is called when an asset is committed to its owner
	CommittedHook func(action recovery.Action)

	// FailedHook is called when a commit fails or is rolled back
	FailedHook func(action recovery.Action)
)

// hooks manages event callbacks for recovery actions
type hooks struct {
	mu          sync.RWMutex
	onCommitted []CommittedHook
	onFailed    []FailedHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnCommitted registers a callback for committed actions
func (h *hooks) OnCommitted(fn CommittedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCommitted = append(h.onCommitted, fn)
}

// OnFailed registers a callback for failed actions
func (h *hooks) OnFailed(fn FailedHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFailed = append(h.onFailed, fn)
}

// trigger dispatches one finished action. Assets reconciled by an earlier
// run are not reported again.
func (h *hooks) trigger(a recovery.Action) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case a.Status == recovery.StatusCommitted && !a.AlreadyReconciled:
		for _, hook := range h.onCommitted {
			hook(a)
		}
	case a.Failed():
		for _, hook := range h.onFailed {
			hook(a)
		}
	}
}
