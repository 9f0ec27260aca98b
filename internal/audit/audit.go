// Package audit provides structured event logging for sandbox lifecycle events.
// Events are stored as JSON Lines (JSONL) files, one per sandbox.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/firefly-engineering/clonebox/internal/config"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventCreate        EventType = "create"
	EventDestroy       EventType = "destroy"
	EventRehydrate     EventType = "rehydrate"
	EventQuotaWarning  EventType = "quota-warning"
	EventMemoryWarning EventType = "memory-warning"
	EventCleanup       EventType = "cleanup"
	EventError         EventType = "error"
)

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Sandbox   string    `json:"sandbox"`
	Details   string    `json:"details,omitempty"`
}

// Recorder is the write side of the audit log.
type Recorder interface {
	LogEvent(eventType EventType, sandbox, details string) error
}

// Logger writes and reads audit events for sandboxes.
// Events are stored in {auditDir}/{sandboxId}.jsonl.
type Logger struct {
	dir string
	mu  sync.Mutex
}

// NewLogger creates a new audit logger rooted at auditDir.
func NewLogger(auditDir string) *Logger {
	return &Logger{dir: auditDir}
}

// eventPath returns the path to the JSONL event log for a sandbox.
func (l *Logger) eventPath(sandbox string) (string, error) {
	if err := config.ValidateSandboxID(sandbox); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, sandbox+".jsonl"), nil
}

// Log appends an event to the sandbox's audit log.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	path, err := l.eventPath(event.Sandbox)
	if err != nil {
		return fmt.Errorf("invalid audit target: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogEvent is a convenience method that creates and logs an event.
func (l *Logger) LogEvent(eventType EventType, sandbox, details string) error {
	return l.Log(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Sandbox:   sandbox,
		Details:   details,
	})
}

// Events reads all events for a sandbox in chronological order.
func (l *Logger) Events(sandbox string) ([]Event, error) {
	path, err := l.eventPath(sandbox)
	if err != nil {
		return nil, fmt.Errorf("invalid audit target: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log: %w", err)
	}

	return events, nil
}

// Sandboxes returns the ids that have an audit log, sorted.
func (l *Logger) Sandboxes() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), ".jsonl")
		if entry.IsDir() || !ok || config.ValidateSandboxID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes the audit log for a sandbox.
func (l *Logger) Remove(sandbox string) error {
	path, err := l.eventPath(sandbox)
	if err != nil {
		return fmt.Errorf("invalid audit target: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) LogEvent(EventType, string, string) error { return nil }
