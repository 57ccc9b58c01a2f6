package training

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks in-flight training runs and cancellation requests. It is
// an explicit, injectable object scoped to the service lifetime so runs
// cannot leak state into each other.
type Registry struct {
	mu        sync.Mutex
	cancels   map[uuid.UUID]context.CancelFunc
	cancelled map[uuid.UUID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		cancels:   make(map[uuid.UUID]context.CancelFunc),
		cancelled: make(map[uuid.UUID]struct{}),
	}
}

// Track registers a running run with the function that kills its subprocess.
func (r *Registry) Track(runID uuid.UUID, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[runID] = cancel
}

// Release drops all state for a finished run.
func (r *Registry) Release(runID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, runID)
	delete(r.cancelled, runID)
}

// Cancel marks a run cancelled and kills its subprocess when tracked.
// It reports whether the run had an active subprocess.
func (r *Registry) Cancel(runID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[runID] = struct{}{}
	cancel, active := r.cancels[runID]
	if active {
		cancel()
	}
	return active
}

// Cancelled reports whether a cancellation was requested for the run.
func (r *Registry) Cancelled(runID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[runID]
	return ok
}
