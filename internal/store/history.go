package store

import (
	"database/sql"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Run is one finished workflow run: completed, cancelled, or expired.
type Run struct {
	ID         int       `json:"id"`
	UserID     string    `json:"user_id"`
	WorkflowID string    `json:"workflow_id"`
	Outcome    string    `json:"outcome"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// HistoryStore records finished runs in sqlite so they survive long after the
// live instance is deleted from the state file.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	query := `CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		workflow_id TEXT,
		outcome TEXT,
		steps INTEGER,
		started_at DATETIME,
		finished_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(query); err != nil {
		return nil, err
	}

	return &HistoryStore{DB: db}, nil
}

// RecordRun appends one finished run.
func (h *HistoryStore) RecordRun(st *State, outcome string) error {
	query := `INSERT INTO runs (user_id, workflow_id, outcome, steps, started_at) VALUES (?, ?, ?, ?, ?)`
	steps := len(st.StepHistory) + 1
	_, err := h.DB.Exec(query, st.UserID, st.WorkflowID, outcome, steps, st.StartedAt)
	return err
}

// RecentRuns returns the user's most recent finished runs, newest first.
func (h *HistoryStore) RecentRuns(userID string, limit int) ([]Run, error) {
	query := `SELECT id, user_id, workflow_id, outcome, steps, started_at, finished_at
		FROM runs WHERE user_id = ? ORDER BY finished_at DESC LIMIT ?`
	rows, err := h.DB.Query(query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.UserID, &r.WorkflowID, &r.Outcome, &r.Steps, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}
