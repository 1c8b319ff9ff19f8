// Package fanout implements the per-agent listener registry and event
// dispatch of SPEC_FULL.md §4.6, grounded on the subscriber-table shape of
// internal/adapters/eventbus.go (last-registration-wins, panic isolation).
package fanout

import (
	"sync"

	"github.com/sirupsen/logrus"

	"dev.swarmcore.comm/internal/msg"
)

// Listener receives every IncomingMessage successfully delivered to the
// agent it was registered for.
type Listener func(*msg.IncomingMessage)

// Registry is a concurrent map of agentId -> Listener. Register replaces
// any previous listener for the same id (last registration wins, per
// spec.md §4.6).
type Registry struct {
	mu        sync.RWMutex
	listeners map[int64]Listener
	logger    *logrus.Logger
}

// New creates an empty Registry. A nil logger falls back to logrus's
// standard logger.
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		listeners: make(map[int64]Listener),
		logger:    logger,
	}
}

// Register installs l as the listener for agentID, replacing any prior
// registration.
func (r *Registry) Register(agentID int64, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[agentID] = l
}

// Unregister removes any listener for agentID.
func (r *Registry) Unregister(agentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, agentID)
}

// Registered reports whether agentID currently has a listener.
func (r *Registry) Registered(agentID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.listeners[agentID]
	return ok
}

// Dispatch invokes the registered listener for im.ReceiverID, if any. A
// panicking listener is recovered and logged; it never propagates to the
// caller and never affects any other agent's dispatch (spec.md §4.6, §7).
func (r *Registry) Dispatch(im *msg.IncomingMessage) {
	r.mu.RLock()
	l, ok := r.listeners[im.ReceiverID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{
				"receiver_id": im.ReceiverID,
				"message_id":  im.MessageRef.ID,
				"panic":       rec,
			}).Warn("listener panicked during dispatch; swallowed")
		}
	}()
	l(im)
}

// Count returns the number of agents currently holding a listener.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
