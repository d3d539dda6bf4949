// Package taskstatus records the last outcome of each scheduled task.
package taskstatus

import (
	"context"
	"errors"
	"time"
)

// State is the outcome of a task run.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

// Status is the latest known run of a named task.
type Status struct {
	Name       string    `json:"name"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
	Runs       int64     `json:"runs"`
}

// Store keeps task statuses. Entries expire after a TTL.
type Store interface {
	Set(ctx context.Context, status Status) error
	Get(ctx context.Context, name string) (*Status, error)
	List(ctx context.Context) ([]Status, error)
}

// ErrSkipped marks a run that had nothing to do or lacked configuration.
var ErrSkipped = errors.New("taskstatus: skipped")
