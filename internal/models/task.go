// internal/models/task.go
package models

import (
	"time"
)

// Task is one unit of translatable work, typically a single content row.
// Tasks are immutable once created; the engine never mutates them.
type Task struct {
	ID             int               `json:"id"`                       // stable row index
	Fields         map[string]string `json:"fields"`                   // source text fields (e.g. "en", "ru", "speaker")
	Context        string            `json:"context,omitempty"`        // surrounding-line hints
	TargetLang     string            `json:"targetLang"`               // e.g. "zh-CN"
	GlossaryDigest string            `json:"glossaryDigest,omitempty"` // digest of the glossary the caller applied
}

// Result is the durable outcome of one successfully translated task.
type Result struct {
	TaskID      int       `json:"taskId"`
	Fingerprint string    `json:"fingerprint"`
	Output      string    `json:"output"`
	Cached      bool      `json:"cached"` // served from the fingerprint store, no external call
	CompletedAt time.Time `json:"completedAt"`
}

// Outcome labels a WAL record.
type Outcome string

const (
	OutcomeOK     Outcome = "OK"
	OutcomeFailed Outcome = "FAILED"
)

// WALRecord is one append-only line in the write-ahead log. One record is
// written per terminally completed task, successful or not, and is never
// rewritten afterwards.
type WALRecord struct {
	TaskID      int     `json:"taskId"`
	Fingerprint string  `json:"fingerprint"`
	Outcome     Outcome `json:"outcome"`
	Output      string  `json:"output,omitempty"`
	Error       string  `json:"error,omitempty"`
	Cached      bool    `json:"cached,omitempty"`
	Timestamp   int64   `json:"ts"` // unix nanos
}

// NewWALRecord creates a record stamped with the current time.
func NewWALRecord(taskID int, fingerprint string, outcome Outcome) WALRecord {
	return WALRecord{
		TaskID:      taskID,
		Fingerprint: fingerprint,
		Outcome:     outcome,
		Timestamp:   time.Now().UnixNano(),
	}
}
