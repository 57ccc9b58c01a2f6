package training

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge-ai/platform/pkg/logstore"
	"github.com/voiceforge-ai/platform/pkg/metricparse"
)

type fakeRunStore struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*RunModel
	statuses []string
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[uuid.UUID]*RunModel)}
}

func (s *fakeRunStore) Create(ctx context.Context, run *RunModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *fakeRunStore) Get(ctx context.Context, runID uuid.UUID) (*RunModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	clone := *run
	return &clone, nil
}

func (s *fakeRunStore) List(ctx context.Context, limit int) ([]RunModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]RunModel, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *fakeRunStore) UpdateStatus(ctx context.Context, runID uuid.UUID, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		run.Status = status
		run.ErrorMessage = errorMessage
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeRunStore) SetTimestamps(ctx context.Context, runID uuid.UUID, startedAt, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		if startedAt != nil {
			run.StartedAt = startedAt
		}
		if completedAt != nil {
			run.CompletedAt = completedAt
		}
	}
	return nil
}

func (s *fakeRunStore) SetFinalLoss(ctx context.Context, runID uuid.UUID, loss float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		run.FinalLoss = &loss
	}
	return nil
}

func (s *fakeRunStore) Delete(ctx context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}

func (s *fakeRunStore) MergeMetrics(ctx context.Context, runID uuid.UUID, m metricparse.Metrics) error {
	return nil
}

func (s *fakeRunStore) statusHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses...)
}

func newTestService(store *fakeRunStore, registry *Registry) *Service {
	logs := logstore.NewMemory()
	capture := NewCapture(logs, store, 5, 2000)
	return NewService(store, logs, capture, registry, nil, nil, ServiceConfig{MaxConcurrent: 1})
}

// A run cancelled while still queued must never transition to running or
// launch a subprocess once its worker slot frees up.
func TestServiceCancelledQueuedRunNeverStarts(t *testing.T) {
	store := newFakeRunStore()
	registry := NewRegistry()
	service := newTestService(store, registry)
	ctx := context.Background()

	runID := uuid.New()
	if err := store.Create(ctx, &RunModel{ID: runID, Status: StatusPending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := service.Cancel(ctx, runID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	service.run(runID)

	run, err := store.Get(ctx, runID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if run.Status != StatusCancelled {
		t.Fatalf("expected run to stay cancelled, got %q", run.Status)
	}
	for _, status := range store.statusHistory() {
		if status == StatusRunning {
			t.Fatalf("cancelled run transitioned to running: %v", store.statusHistory())
		}
	}
}

// The cancellation request can be recorded in the registry before the
// status write lands; the worker must honor the registry alone.
func TestServiceQueuedCancellationSeenViaRegistry(t *testing.T) {
	store := newFakeRunStore()
	registry := NewRegistry()
	service := newTestService(store, registry)
	ctx := context.Background()

	runID := uuid.New()
	if err := store.Create(ctx, &RunModel{ID: runID, Status: StatusPending, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	registry.Cancel(runID)

	service.run(runID)

	run, err := store.Get(ctx, runID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if run.Status != StatusCancelled {
		t.Fatalf("expected run finalized cancelled, got %q", run.Status)
	}
	if run.CompletedAt == nil {
		t.Fatal("expected completion timestamp on cancelled run")
	}
	for _, status := range store.statusHistory() {
		if status == StatusRunning {
			t.Fatalf("cancelled run transitioned to running: %v", store.statusHistory())
		}
	}
}
