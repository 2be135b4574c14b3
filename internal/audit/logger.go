package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wiifm74/equilibria/internal/config"
)

// Outcome values for a command record.
const (
	OutcomeDispatched  = "DISPATCHED"
	OutcomeRejected    = "REJECTED"
	OutcomeUnavailable = "UNAVAILABLE"
	OutcomeError       = "ERROR"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp     time.Time      `json:"ts"`
	Subject       string         `json:"subject"`
	Command       string         `json:"command"`
	Params        map[string]any `json:"params,omitempty"`
	Outcome       string         `json:"outcome"`
	LatencyMs     int64          `json:"latencyMs"`
	CorrelationID string         `json:"correlationId"`
}

// Logger appends one JSON line per command to a size-rotated file. Failures
// go to stderr and are otherwise swallowed: auditing never blocks or fails a
// request.
type Logger struct {
	mu       sync.Mutex
	filePath string
	w        *lumberjack.Logger
}

// NewLogger creates an audit logger writing to audit.jsonl under cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, "audit.jsonl")
	return &Logger{
		filePath: filePath,
		w: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
	}, nil
}

// LogCommand records one command attempt. An empty subject means the request
// was not authenticated.
func (l *Logger) LogCommand(subject, command string, params map[string]any, outcome string, latency time.Duration, correlationID string) {
	if subject == "" {
		subject = "anonymous"
	}

	l.writeEntry(AuditEntry{
		Timestamp:     time.Now().UTC(),
		Subject:       subject,
		Command:       command,
		Params:        params,
		Outcome:       outcome,
		LatencyMs:     latency.Milliseconds(),
		CorrelationID: correlationID,
	})
}

// writeEntry writes an audit entry to the log file.
func (l *Logger) writeEntry(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	if _, err := l.w.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Rotate forces a rotation of the current audit file.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Rotate()
}

// Close closes the audit logger and its file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}
