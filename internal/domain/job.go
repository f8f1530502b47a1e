package domain

import (
	"encoding/json"
	"time"
)

// Job lifecycle states.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is a unit of background work stored in the job queue.
type Job struct {
	ID             string
	JobType        string
	Queue          string
	Payload        json.RawMessage
	Status         string
	Attempts       int
	MaxRetries     int
	TimeoutSeconds int
	ScheduledAt    time.Time
	WorkerID       string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnqueueJobParams describes a job to add to the queue.
type EnqueueJobParams struct {
	JobType        string
	Queue          string
	Payload        json.RawMessage
	MaxRetries     int
	TimeoutSeconds int
	ScheduledAt    time.Time
}
