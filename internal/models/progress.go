// internal/models/progress.go
package models

import (
	"time"
)

// Plan is the work breakdown computed before dispatch: how much of the
// submitted list is already durably done, and how much remains.
type Plan struct {
	Total     int `json:"total"`
	Done      int `json:"done"`      // checkpointed on a previous run
	Cached    int `json:"cached"`    // resolvable from the fingerprint store
	ToProcess int `json:"toProcess"` // requires an external call
}

// Progress is a point-in-time snapshot of a running (or finished) run,
// safe to hand to pollers and push publishers.
type Progress struct {
	RunID             string  `json:"runId"`
	Total             int     `json:"total"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	Remaining         int     `json:"remaining"`
	Percent           float64 `json:"percent"`
	Workers           int     `json:"workers"`
	ConsecutiveErrors int     `json:"consecutiveErrors"`
}

// RunState tracks the lifecycle of a run handle.
type RunState string

const (
	RunStatePlanned  RunState = "PLANNED"
	RunStateRunning  RunState = "RUNNING"
	RunStateStopped  RunState = "STOPPED"
	RunStateFinished RunState = "FINISHED"
)

// Report is the final accounting returned by Run.Wait.
type Report struct {
	RunID         string    `json:"runId"`
	State         RunState  `json:"state"`
	Total         int       `json:"total"`
	Completed     int       `json:"completed"` // durably done, including prior runs
	Failed        int       `json:"failed"`
	CacheHits     int       `json:"cacheHits"`
	ExternalCalls int       `json:"externalCalls"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// StatusMessage wraps progress updates for push delivery (NATS). Mirrors the
// envelope shape used for every event subject.
type StatusMessage struct {
	Type      string    `json:"type"` // "run" or "task"
	RunID     string    `json:"runId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Progress  *Progress `json:"progress,omitempty"`
}
