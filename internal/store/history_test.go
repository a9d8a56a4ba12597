package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestHistoryStore_RecordAndQuery(t *testing.T) {
	h, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewHistoryStore failed: %v", err)
	}
	defer h.Close()

	st := testState("u1", "onboarding", time.Hour)
	st.StepHistory = []string{"welcome", "pick-plan"}
	if err := h.RecordRun(st, "completed"); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := h.RecordRun(testState("u1", "survey", time.Hour), "cancelled"); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := h.RecordRun(testState("u2", "onboarding", time.Hour), "expired"); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	runs, err := h.RecentRuns("u1", 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs for u1, got %d", len(runs))
	}
	for _, r := range runs {
		if r.UserID != "u1" {
			t.Errorf("Run for the wrong user: %+v", r)
		}
	}

	var completed *Run
	for i := range runs {
		if runs[i].Outcome == "completed" {
			completed = &runs[i]
		}
	}
	if completed == nil {
		t.Fatal("Completed run missing")
	}
	if completed.Steps != 3 {
		t.Errorf("Expected 3 steps counted, got %d", completed.Steps)
	}

	if runs, _ := h.RecentRuns("u3", 10); len(runs) != 0 {
		t.Errorf("Expected no runs for unknown user, got %v", runs)
	}
}
