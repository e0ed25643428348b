// Package queue provides the durable per-category job queue with atomic
// claim semantics.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// IsValidStatus returns true if s is one of the defined statuses.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusError, StatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status is a terminal state. Terminal jobs are
// never mutated again except by administrative flush/remove.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusSkipped
}

// Job represents one unit of queued work in exactly one category.
//
// The queue is deliberately ignorant of what the work is: Target names the
// resource (a track path, a library root, a model identifier) and Options and
// Result are opaque payloads owned by the processing backend.
type Job struct {
	ID         string          `json:"id"`
	Category   string          `json:"category"`
	Target     string          `json:"target"`
	Options    json.RawMessage `json:"options,omitempty"`
	Status     Status          `json:"status"`
	WorkerID   string          `json:"worker_id,omitempty"` // holder while running
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewJob creates a pending job for the given category and target.
// Deduplication is the producer's responsibility; the queue accepts
// duplicates without complaint.
func NewJob(category, target string, options json.RawMessage) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Category:  category,
		Target:    target,
		Options:   options,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Stats holds counts of jobs by status for one category.
type Stats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Error   int `json:"error"`
	Skipped int `json:"skipped"`
	Total   int `json:"total"`
}

// Depth is the queue admission depth: work that is waiting or in flight.
func (s Stats) Depth() int {
	return s.Pending + s.Running
}
