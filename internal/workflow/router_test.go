package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/setu/internal/store"
)

func TestRouter_NotifyPrefersActiveState(t *testing.T) {
	states, err := store.Open(filepath.Join(t.TempDir(), "states.json"))
	if err != nil {
		t.Fatal(err)
	}
	telegram := newFakeAdapter("telegram")
	discord := newFakeAdapter("discord")
	r := NewRouter(states, telegram, discord)

	now := time.Now()
	if err := states.Create(&store.State{
		ID: "s1", WorkflowID: "signup", UserID: "u1",
		CurrentStep: "ready", Data: map[string]store.StepData{},
		StartedAt: now, LastActiveAt: now, ExpiresAt: now.Add(time.Hour),
		OriginSurface: "telegram", LastSurface: "discord",
	}); err != nil {
		t.Fatal(err)
	}
	// Even though the gateway last saw them on telegram, the in-flight
	// workflow says discord.
	r.Observe("u1", "telegram")

	name, err := r.Notify(context.Background(), "u1", "ping")
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if name != "discord" || len(discord.sent) != 1 {
		t.Errorf("Expected delivery on discord, got %q (discord=%v telegram=%v)", name, discord.sent, telegram.sent)
	}
}

func TestRouter_NotifyFallsBackToLastSeen(t *testing.T) {
	states, err := store.Open(filepath.Join(t.TempDir(), "states.json"))
	if err != nil {
		t.Fatal(err)
	}
	telegram := newFakeAdapter("telegram")
	r := NewRouter(states, telegram)

	if _, err := r.Notify(context.Background(), "u1", "ping"); err == nil {
		t.Fatal("Expected an error before the user has been seen anywhere")
	}

	r.Observe("u1", "telegram")
	name, err := r.Notify(context.Background(), "u1", "ping")
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if name != "telegram" || len(telegram.sent) != 1 {
		t.Errorf("Expected delivery on telegram, got %q (%v)", name, telegram.sent)
	}
}

func TestRouter_NotifyState(t *testing.T) {
	states, err := store.Open(filepath.Join(t.TempDir(), "states.json"))
	if err != nil {
		t.Fatal(err)
	}
	telegram := newFakeAdapter("telegram")
	r := NewRouter(states, telegram)

	st := &store.State{UserID: "u1", WorkflowID: "signup", OriginSurface: "telegram"}
	if err := r.NotifyState(context.Background(), st, "Your session expired."); err != nil {
		t.Fatalf("NotifyState failed: %v", err)
	}
	if len(telegram.sent) != 1 {
		t.Errorf("Expected one delivery, got %v", telegram.sent)
	}

	st.OriginSurface = "pager"
	if err := r.NotifyState(context.Background(), st, "ping"); err == nil {
		t.Error("Expected an error for an unknown surface")
	}
}
