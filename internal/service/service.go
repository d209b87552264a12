package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftplane/schedcore/internal/events"
	"github.com/driftplane/schedcore/internal/models"
	"github.com/driftplane/schedcore/internal/schedule"
	"github.com/driftplane/schedcore/internal/store"
)

// Service coordinates schedule mutations. Every state-changing operation
// pairs the store mutation with invalidation of the deployment's pending
// auto-generated runs, committed as one unit by the store, so no run
// generated under a stale schedule set survives a mutation.
type Service struct {
	store  store.Store
	events events.Publisher
	log    zerolog.Logger
}

func New(st store.Store, pub events.Publisher, log zerolog.Logger) *Service {
	return &Service{store: st, events: pub, log: log}
}

// ScheduleCreate is one entry of a create batch. Active defaults to true
// when the caller leaves it unset.
type ScheduleCreate struct {
	Definition schedule.Definition
	Active     *bool
}

// ScheduleUpdate is a partial update; nil fields are untouched.
type ScheduleUpdate struct {
	Definition *schedule.Definition
	Active     *bool
}

// CreateSchedules validates and persists the whole batch, or nothing. A
// single invalid definition fails the batch before any write.
func (s *Service) CreateSchedules(ctx context.Context, deploymentID uuid.UUID, reqs []ScheduleCreate) ([]models.DeploymentSchedule, error) {
	if len(reqs) == 0 {
		return nil, &schedule.ValidationError{Field: "schedules", Reason: "at least one schedule required"}
	}
	inputs := make([]store.ScheduleInput, 0, len(reqs))
	for i, req := range reqs {
		if err := req.Definition.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		inputs = append(inputs, store.ScheduleInput{
			Definition: req.Definition,
			Active:     active,
		})
	}

	created, err := s.store.CreateSchedules(ctx, deploymentID, inputs)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(created))
	for i, sched := range created {
		ids[i] = sched.ID
	}
	s.emit(ctx, events.MutationEvent{
		Action:       events.ActionSchedulesCreated,
		DeploymentID: deploymentID,
		ScheduleIDs:  ids,
		Invalidated:  true,
	})
	s.log.Info().
		Str("deployment_id", deploymentID.String()).
		Int("count", len(created)).
		Msg("schedules created")
	return created, nil
}

// ListSchedules returns the deployment's schedules in creation order.
func (s *Service) ListSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error) {
	exists, err := s.store.DeploymentExists(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrDeploymentNotFound
	}
	return s.store.ListSchedules(ctx, deploymentID)
}

// UpdateSchedule applies a partial update. Invalidation fires only when the
// patch touches the active flag or the definition, the two fields that change
// the deployment's effective schedule set.
func (s *Service) UpdateSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID, upd ScheduleUpdate) error {
	if upd.Definition != nil {
		if err := upd.Definition.Validate(); err != nil {
			return err
		}
	}
	invalidate := upd.Definition != nil || upd.Active != nil
	if err := s.store.UpdateSchedule(ctx, deploymentID, scheduleID, store.ScheduleUpdate{
		Definition: upd.Definition,
		Active:     upd.Active,
	}, invalidate); err != nil {
		return err
	}

	s.emit(ctx, events.MutationEvent{
		Action:       events.ActionScheduleUpdated,
		DeploymentID: deploymentID,
		ScheduleIDs:  []uuid.UUID{scheduleID},
		Invalidated:  invalidate,
	})
	s.log.Info().
		Str("deployment_id", deploymentID.String()).
		Str("schedule_id", scheduleID.String()).
		Bool("invalidated", invalidate).
		Msg("schedule updated")
	return nil
}

// DeleteSchedule removes the schedule and always invalidates: the coarse
// policy clears every pending auto-generated run for the deployment rather
// than attributing runs to the deleted schedule.
func (s *Service) DeleteSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) error {
	if err := s.store.DeleteSchedule(ctx, deploymentID, scheduleID); err != nil {
		return err
	}
	s.emit(ctx, events.MutationEvent{
		Action:       events.ActionScheduleDeleted,
		DeploymentID: deploymentID,
		ScheduleIDs:  []uuid.UUID{scheduleID},
		Invalidated:  true,
	})
	s.log.Info().
		Str("deployment_id", deploymentID.String()).
		Str("schedule_id", scheduleID.String()).
		Msg("schedule deleted")
	return nil
}

// RemoveDeploymentSchedules is the cascade path used when a deployment is
// deleted. Not exposed over HTTP.
func (s *Service) RemoveDeploymentSchedules(ctx context.Context, deploymentID uuid.UUID) error {
	return s.store.DeleteSchedulesForDeployment(ctx, deploymentID)
}

func (s *Service) emit(ctx context.Context, ev events.MutationEvent) {
	if s.events == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().
			Err(err).
			Str("action", ev.Action).
			Str("deployment_id", ev.DeploymentID.String()).
			Msg("mutation event dropped")
	}
}
