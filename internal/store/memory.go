package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftplane/schedcore/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local acceptance runs.
// A single mutex stands in for the per-deployment transaction scope of the
// SQL store; all mutation+invalidation pairs execute under it.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         uint64
	deployments map[uuid.UUID]models.Deployment
	schedules   map[uuid.UUID]memSchedule
	runs        map[uuid.UUID]models.Run
}

type memSchedule struct {
	models.DeploymentSchedule
	seq uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deployments: map[uuid.UUID]models.Deployment{},
		schedules:   map[uuid.UUID]memSchedule{},
		runs:        map[uuid.UUID]models.Run{},
	}
}

func (m *MemoryStore) CreateDeployment(ctx context.Context, in DeploymentInput) (models.Deployment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	d := models.Deployment{
		ID:        in.ID,
		Name:      in.Name,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[d.ID] = d
	return d, nil
}

func (m *MemoryStore) DeploymentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.deployments[id]
	return ok, nil
}

func (m *MemoryStore) CreateSchedules(ctx context.Context, deploymentID uuid.UUID, in []ScheduleInput) ([]models.DeploymentSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployments[deploymentID]; !ok {
		return nil, ErrDeploymentNotFound
	}
	now := time.Now().UTC()
	created := make([]models.DeploymentSchedule, 0, len(in))
	for _, entry := range in {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		m.seq++
		sched := memSchedule{
			DeploymentSchedule: models.DeploymentSchedule{
				ID:           entry.ID,
				DeploymentID: deploymentID,
				Schedule:     entry.Definition,
				Active:       entry.Active,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
			seq: m.seq,
		}
		m.schedules[sched.ID] = sched
		created = append(created, sched.DeploymentSchedule)
	}
	m.deleteScheduledRunsLocked(deploymentID)
	return created, nil
}

func (m *MemoryStore) ListSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error) {
	return m.listSchedules(deploymentID, false), nil
}

func (m *MemoryStore) ListActiveSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error) {
	return m.listSchedules(deploymentID, true), nil
}

func (m *MemoryStore) listSchedules(deploymentID uuid.UUID, activeOnly bool) []models.DeploymentSchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []memSchedule
	for _, sched := range m.schedules {
		if sched.DeploymentID != deploymentID {
			continue
		}
		if activeOnly && !sched.Active {
			continue
		}
		matched = append(matched, sched)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	schedules := make([]models.DeploymentSchedule, len(matched))
	for i, sched := range matched {
		schedules[i] = sched.DeploymentSchedule
	}
	return schedules
}

func (m *MemoryStore) GetSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) (models.DeploymentSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sched, ok := m.schedules[scheduleID]
	if !ok || sched.DeploymentID != deploymentID {
		return models.DeploymentSchedule{}, ErrScheduleNotFound
	}
	return sched.DeploymentSchedule, nil
}

func (m *MemoryStore) UpdateSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID, upd ScheduleUpdate, invalidate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployments[deploymentID]; !ok {
		return ErrDeploymentNotFound
	}
	sched, ok := m.schedules[scheduleID]
	if !ok || sched.DeploymentID != deploymentID {
		return ErrScheduleNotFound
	}
	if upd.Definition != nil {
		sched.Schedule = *upd.Definition
	}
	if upd.Active != nil {
		sched.Active = *upd.Active
	}
	sched.UpdatedAt = time.Now().UTC()
	m.schedules[scheduleID] = sched
	if invalidate {
		m.deleteScheduledRunsLocked(deploymentID)
	}
	return nil
}

func (m *MemoryStore) DeleteSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployments[deploymentID]; !ok {
		return ErrDeploymentNotFound
	}
	sched, ok := m.schedules[scheduleID]
	if !ok || sched.DeploymentID != deploymentID {
		return ErrScheduleNotFound
	}
	delete(m.schedules, scheduleID)
	m.deleteScheduledRunsLocked(deploymentID)
	return nil
}

func (m *MemoryStore) DeleteSchedulesForDeployment(ctx context.Context, deploymentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployments[deploymentID]; !ok {
		return ErrDeploymentNotFound
	}
	for id, sched := range m.schedules {
		if sched.DeploymentID == deploymentID {
			delete(m.schedules, id)
		}
	}
	m.deleteScheduledRunsLocked(deploymentID)
	return nil
}

func (m *MemoryStore) DeleteScheduledRuns(ctx context.Context, deploymentID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteScheduledRunsLocked(deploymentID), nil
}

func (m *MemoryStore) deleteScheduledRunsLocked(deploymentID uuid.UUID) int64 {
	var n int64
	for id, run := range m.runs {
		if run.DeploymentID == deploymentID && run.AutoScheduled && run.State == models.RunStateScheduled {
			delete(m.runs, id)
			n++
		}
	}
	return n
}

func (m *MemoryStore) CreateRun(ctx context.Context, in RunInput) (models.Run, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == "" {
		in.State = models.RunStateScheduled
	}
	now := time.Now().UTC()
	if in.ScheduledFor.IsZero() {
		in.ScheduledFor = now
	}
	run := models.Run{
		ID:            in.ID,
		DeploymentID:  in.DeploymentID,
		AutoScheduled: in.AutoScheduled,
		State:         in.State,
		ScheduledFor:  in.ScheduledFor,
		CreatedAt:     now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return run, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]models.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []models.Run
	for _, run := range m.runs {
		if filter.DeploymentID != nil && run.DeploymentID != *filter.DeploymentID {
			continue
		}
		if filter.AutoScheduled != nil && run.AutoScheduled != *filter.AutoScheduled {
			continue
		}
		if filter.State != "" && run.State != filter.State {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].ScheduledFor.Equal(runs[j].ScheduledFor) {
			return runs[i].ScheduledFor.Before(runs[j].ScheduledFor)
		}
		return runs[i].ID.String() < runs[j].ID.String()
	})
	return runs, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
