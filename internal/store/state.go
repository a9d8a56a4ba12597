package store

import "time"

// Key identifies one workflow instance: at most one non-expired instance may
// exist per key. A struct key rather than string concatenation, so two IDs
// can never collide into the same map entry.
type Key struct {
	UserID     string
	WorkflowID string
}

// StepData is what the user answered at one step.
type StepData struct {
	Selection  string    `json:"selection,omitempty"`
	Selections []string  `json:"selections,omitempty"`
	Text       string    `json:"text,omitempty"`
	At         time.Time `json:"at"`
}

// State is one user's in-progress run of a workflow definition.
type State struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflowId"`
	UserID      string `json:"userId"`
	CurrentStep string `json:"currentStep"`

	// StepHistory holds previously visited steps, oldest first. Advancing
	// appends the step being left; "back" pops.
	StepHistory []string            `json:"stepHistory"`
	Data        map[string]StepData `json:"data"`

	StartedAt     time.Time `json:"startedAt"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	OriginSurface string    `json:"originSurface"`
	LastSurface   string    `json:"lastSurface"`

	// ExpiresAt is absolute; the engine recomputes it from the definition
	// TTL on every mutation.
	ExpiresAt time.Time `json:"expiresAt"`

	// LastMessageIDs maps surface name to the handle of the last prompt sent
	// there, used to retract or update prior prompts.
	LastMessageIDs map[string]string `json:"lastMessageIds,omitempty"`
}

func (s *State) Key() Key {
	return Key{UserID: s.UserID, WorkflowID: s.WorkflowID}
}

func (s *State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Surface returns the surface to deliver on: the one the user last acted
// from, falling back to wherever the workflow started.
func (s *State) Surface() string {
	if s.LastSurface != "" {
		return s.LastSurface
	}
	return s.OriginSurface
}
