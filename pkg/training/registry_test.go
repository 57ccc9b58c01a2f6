package training

import (
	"testing"

	"github.com/google/uuid"
)

func TestRegistryCancelKillsTrackedRun(t *testing.T) {
	registry := NewRegistry()
	runID := uuid.New()

	killed := false
	registry.Track(runID, func() { killed = true })

	if !registry.Cancel(runID) {
		t.Fatal("expected cancel of a tracked run to report active")
	}
	if !killed {
		t.Fatal("expected cancel func invoked")
	}
	if !registry.Cancelled(runID) {
		t.Fatal("expected run marked cancelled")
	}
}

func TestRegistryCancelUntrackedRun(t *testing.T) {
	registry := NewRegistry()
	runID := uuid.New()

	if registry.Cancel(runID) {
		t.Fatal("expected cancel of an untracked run to report inactive")
	}
	if !registry.Cancelled(runID) {
		t.Fatal("cancellation request must still be recorded")
	}
}

func TestRegistryReleaseClearsState(t *testing.T) {
	registry := NewRegistry()
	runID := uuid.New()

	registry.Track(runID, func() {})
	registry.Cancel(runID)
	registry.Release(runID)

	if registry.Cancelled(runID) {
		t.Fatal("expected released run to carry no cancellation state")
	}
	if registry.Cancel(runID) {
		t.Fatal("expected released run to be untracked")
	}
}
