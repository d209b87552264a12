package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftplane/schedcore/internal/schedule"
)

// Deployment is owned externally; this service only consults its existence
// and owns the schedules hanging off it.
type Deployment struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeploymentSchedule is a recurrence rule attached to a deployment.
type DeploymentSchedule struct {
	ID           uuid.UUID           `json:"id"`
	DeploymentID uuid.UUID           `json:"deploymentId"`
	Schedule     schedule.Definition `json:"schedule"`
	Active       bool                `json:"active"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Run lifecycle states. Only Scheduled matters to invalidation; the rest
// belong to the execution subsystem.
const (
	RunStateScheduled = "SCHEDULED"
	RunStatePending   = "PENDING"
	RunStateRunning   = "RUNNING"
	RunStateCompleted = "COMPLETED"
	RunStateFailed    = "FAILED"
	RunStateCancelled = "CANCELLED"
)

// Run is a materialized work instance. AutoScheduled marks runs produced by
// the materializer from active schedules, as opposed to manual submissions.
type Run struct {
	ID            uuid.UUID `json:"id"`
	DeploymentID  uuid.UUID `json:"deploymentId"`
	AutoScheduled bool      `json:"autoScheduled"`
	State         string    `json:"state"`
	ScheduledFor  time.Time `json:"scheduledFor"`
	CreatedAt     time.Time `json:"createdAt"`
}
