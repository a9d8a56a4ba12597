package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore is the durable store of in-progress workflow instances. The whole
// set lives in one JSON document, replaced atomically (write temp file, then
// rename) on every mutation, so a crash mid-write leaves either the pre-write
// or the post-write file, never a mixture.
//
// Expiry is enforced on read: an entry past its ExpiresAt is deleted and
// reported as absent, so correctness never depends on sweep timing. The
// background sweep is only a backstop for keys nobody reads again.
type FileStore struct {
	mu     sync.Mutex
	path   string
	states map[Key]*State
}

// Open loads the store file at path, creating the parent directory if needed.
// Expired entries in the file are dropped on load.
func Open(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	fs := &FileStore{
		path:   path,
		states: make(map[Key]*State),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	var raw map[string]*State
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", path, err)
	}

	now := time.Now()
	for _, st := range raw {
		if st == nil || st.UserID == "" || st.WorkflowID == "" {
			continue
		}
		if st.Expired(now) {
			continue
		}
		fs.states[st.Key()] = st
	}
	return fs, nil
}

// Create stores a new instance, replacing any existing one for the same
// (user, workflow) key. Creation is user-initiated and implies intent to
// restart, so the overwrite is deliberate.
func (fs *FileStore) Create(st *State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.states[st.Key()] = st.clone()
	return fs.persistLocked()
}

// Get returns the instance for (userID, workflowID), or nil if there is none.
// An expired instance is deleted as a side effect of being observed.
func (fs *FileStore) Get(userID, workflowID string) (*State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := Key{UserID: userID, WorkflowID: workflowID}
	st, ok := fs.states[key]
	if !ok {
		return nil, nil
	}
	if st.Expired(time.Now()) {
		delete(fs.states, key)
		if err := fs.persistLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return st.clone(), nil
}

// Update persists the full new state. The caller is responsible for having
// recomputed ExpiresAt.
func (fs *FileStore) Update(st *State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.states[st.Key()] = st.clone()
	return fs.persistLocked()
}

// Delete removes the instance and reports whether something was actually
// removed. Idempotent.
func (fs *FileStore) Delete(userID, workflowID string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := Key{UserID: userID, WorkflowID: workflowID}
	if _, ok := fs.states[key]; !ok {
		return false, nil
	}
	delete(fs.states, key)
	return true, fs.persistLocked()
}

// ActiveForUser returns the user's most recently active non-expired instance,
// or nil. Expired entries encountered during the scan are evicted, amortizing
// cleanup into the normal read path.
func (fs *FileStore) ActiveForUser(userID string) (*State, error) {
	states, err := fs.AllForUser(userID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return states[0], nil
}

// AllForUser returns the user's non-expired instances, most recently active
// first, evicting any expired ones encountered.
func (fs *FileStore) AllForUser(userID string) ([]*State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	var out []*State
	dirty := false
	for key, st := range fs.states {
		if key.UserID != userID {
			continue
		}
		if st.Expired(now) {
			delete(fs.states, key)
			dirty = true
			continue
		}
		out = append(out, st.clone())
	}
	if dirty {
		if err := fs.persistLocked(); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})
	return out, nil
}

// Sweep removes every expired instance and returns what was removed. Safe to
// interleave with request handling: it only touches entries already past
// their ExpiresAt.
func (fs *FileStore) Sweep() ([]*State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	var removed []*State
	for key, st := range fs.states {
		if st.Expired(now) {
			removed = append(removed, st)
			delete(fs.states, key)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, fs.persistLocked()
}

// StartSweeper runs Sweep on a fixed interval until ctx is cancelled.
// onExpired, if non-nil, is called with each purged instance.
func (fs *FileStore) StartSweeper(ctx context.Context, interval time.Duration, onExpired func(*State)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := fs.Sweep()
			if err != nil {
				log.Printf("Error sweeping workflow states: %v", err)
				continue
			}
			if onExpired != nil {
				for _, st := range removed {
					onExpired(st)
				}
			}
		}
	}
}

// Len reports the number of live instances. Used by the status dashboard.
func (fs *FileStore) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.states)
}

// persistLocked writes the full state set through a temp file and an atomic
// rename. Callers must hold fs.mu.
func (fs *FileStore) persistLocked() error {
	doc := make(map[string]*State, len(fs.states))
	for key, st := range fs.states {
		doc[key.UserID+"::"+key.WorkflowID] = st
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write store temp file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

func (s *State) clone() *State {
	cp := *s
	cp.StepHistory = append([]string(nil), s.StepHistory...)
	cp.Data = make(map[string]StepData, len(s.Data))
	for k, v := range s.Data {
		v.Selections = append([]string(nil), v.Selections...)
		cp.Data[k] = v
	}
	cp.LastMessageIDs = make(map[string]string, len(s.LastMessageIDs))
	for k, v := range s.LastMessageIDs {
		cp.LastMessageIDs[k] = v
	}
	return &cp
}
