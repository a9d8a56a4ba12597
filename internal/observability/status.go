package observability

import (
	"sync"
	"time"
)

type SystemStatus struct {
	mu              sync.RWMutex
	ActiveInstances int
	Definitions     int
	LastOutcome     string
	LastHeartbeat   time.Time
}

var globalStatus = &SystemStatus{
	LastHeartbeat: time.Now(),
}

// SetCounts updates the live instance and definition counts shown on the
// dashboard.
func SetCounts(active, definitions int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.ActiveInstances = active
	globalStatus.Definitions = definitions
}

// SetLastOutcome records the most recent engine outcome.
func SetLastOutcome(outcome string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastOutcome = outcome
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (active, definitions int, outcome string, lastHB time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.ActiveInstances, globalStatus.Definitions, globalStatus.LastOutcome, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
