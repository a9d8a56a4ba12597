package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeWorkflowStart EventType = "workflow_start"
	EventTypeAction        EventType = "action"
	EventTypeTransition    EventType = "transition"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeToolResult    EventType = "tool_result"
	EventTypeValidation    EventType = "validation_error"
	EventTypeNegotiation   EventType = "negotiation"
	EventTypeExpiry        EventType = "expiry"
	EventTypeComplete      EventType = "complete"
	EventTypeCancel        EventType = "cancel"
	EventTypeHeartbeat     EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Step       string    `json:"step,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Logger handles structured logging. Tool call/result events additionally go
// to a JSONL file, rotated by size, since those carry the external evidence
// of what a workflow actually did.
type Logger struct {
	toolLogPath string
	maxSize     int64
}

// NewLogger returns a logger writing tool events to path. An empty path
// disables the file entirely.
func NewLogger(path string) *Logger {
	return &Logger{
		toolLogPath: path,
		maxSize:     10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event to stdout.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	if l.toolLogPath != "" && (evt.Type == EventTypeToolCall || evt.Type == EventTypeToolResult) {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.toolLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.toolLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.toolLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.toolLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.toolLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogWorkflowStart(userID, workflowID, surfaceName string) {
	l.Log(Event{
		Type:       EventTypeWorkflowStart,
		UserID:     userID,
		WorkflowID: workflowID,
		Data:       map[string]string{"surface": surfaceName},
	})
}

func (l *Logger) LogAction(userID, workflowID, step, kind string) {
	l.Log(Event{
		Type:       EventTypeAction,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
		Data:       map[string]string{"kind": kind},
	})
}

func (l *Logger) LogTransition(userID, workflowID, step, outcome string) {
	l.Log(Event{
		Type:       EventTypeTransition,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
		Data:       map[string]string{"outcome": outcome},
	})
}

func (l *Logger) LogToolCall(userID, workflowID, step, tool string, params map[string]any) {
	l.Log(Event{
		Type:       EventTypeToolCall,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
		Data: map[string]any{
			"tool":   tool,
			"params": params,
		},
	})
}

func (l *Logger) LogToolResult(userID, workflowID, step, tool string, result any, err error) {
	data := map[string]any{
		"tool":   tool,
		"result": result,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{
		Type:       EventTypeToolResult,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
		Data:       data,
	})
}

func (l *Logger) LogValidation(userID, workflowID, step, reason string) {
	l.Log(Event{
		Type:       EventTypeValidation,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
		Data:       map[string]string{"reason": reason},
	})
}

func (l *Logger) LogNegotiation(userID, workflowID, step, strategy, reason string) {
	l.Log(Event{
		Type:       EventTypeNegotiation,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
		Data: map[string]string{
			"strategy": strategy,
			"reason":   reason,
		},
	})
}

func (l *Logger) LogExpiry(userID, workflowID, step string) {
	l.Log(Event{
		Type:       EventTypeExpiry,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
	})
}

func (l *Logger) LogCancel(userID, workflowID, step string) {
	l.Log(Event{
		Type:       EventTypeCancel,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
	})
}

func (l *Logger) LogComplete(userID, workflowID, step string) {
	l.Log(Event{
		Type:       EventTypeComplete,
		UserID:     userID,
		WorkflowID: workflowID,
		Step:       step,
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}
