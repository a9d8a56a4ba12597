package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/rahul/setu/internal/store"
	"github.com/rahul/setu/internal/surface"
)

// Router delivers proactive messages to a user on whichever surface they
// last used. It learns surfaces from gateway traffic (Observe) and from
// workflow state when one exists.
type Router struct {
	store    StateStore
	adapters map[string]surface.Adapter

	mu       sync.RWMutex
	lastSeen map[string]string // userID -> surface name
}

func NewRouter(st StateStore, adapters ...surface.Adapter) *Router {
	r := &Router{
		store:    st,
		adapters: make(map[string]surface.Adapter, len(adapters)),
		lastSeen: make(map[string]string),
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Observe records that the user was just seen on a surface. Gateways call
// this for every inbound event.
func (r *Router) Observe(userID, surfaceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[userID] = surfaceName
}

// Notify sends text to the user on their last-used surface: the active
// workflow state's surface when there is one, otherwise the last surface a
// gateway saw them on.
func (r *Router) Notify(ctx context.Context, userID, text string) (string, error) {
	name := ""
	if st, err := r.store.ActiveForUser(userID); err == nil && st != nil {
		name = st.Surface()
	}
	if name == "" {
		r.mu.RLock()
		name = r.lastSeen[userID]
		r.mu.RUnlock()
	}
	if name == "" {
		return "", fmt.Errorf("no known surface for user %q", userID)
	}
	return name, r.deliver(ctx, name, userID, text)
}

// NotifyState sends text about a specific instance, e.g. an expiry notice
// after the sweep purged it.
func (r *Router) NotifyState(ctx context.Context, st *store.State, text string) error {
	return r.deliver(ctx, st.Surface(), st.UserID, text)
}

func (r *Router) deliver(ctx context.Context, surfaceName, userID, text string) error {
	adapter, ok := r.adapters[surfaceName]
	if !ok {
		return fmt.Errorf("no adapter for surface %q", surfaceName)
	}
	_, err := adapter.SendMessage(ctx, userID, text)
	return err
}
