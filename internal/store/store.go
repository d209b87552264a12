package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/driftplane/schedcore/internal/models"
	"github.com/driftplane/schedcore/internal/schedule"
)

var (
	// ErrDeploymentNotFound is returned when the referenced deployment does
	// not exist.
	ErrDeploymentNotFound = errors.New("deployment not found")

	// ErrScheduleNotFound is returned when the referenced schedule does not
	// exist under the given deployment. A schedule that exists under a
	// different deployment yields the same error so foreign identifiers are
	// never confirmed.
	ErrScheduleNotFound = errors.New("schedule not found")
)

type Store interface {
	CreateDeployment(ctx context.Context, in DeploymentInput) (models.Deployment, error)
	DeploymentExists(ctx context.Context, id uuid.UUID) (bool, error)

	CreateSchedules(ctx context.Context, deploymentID uuid.UUID, in []ScheduleInput) ([]models.DeploymentSchedule, error)
	ListSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error)
	ListActiveSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error)
	GetSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) (models.DeploymentSchedule, error)
	UpdateSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID, upd ScheduleUpdate, invalidate bool) error
	DeleteSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) error
	DeleteSchedulesForDeployment(ctx context.Context, deploymentID uuid.UUID) error

	DeleteScheduledRuns(ctx context.Context, deploymentID uuid.UUID) (int64, error)
	CreateRun(ctx context.Context, in RunInput) (models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]models.Run, error)

	Ping(ctx context.Context) error
}

type DeploymentInput struct {
	ID   uuid.UUID
	Name string
}

type ScheduleInput struct {
	ID         uuid.UUID
	Definition schedule.Definition
	Active     bool
}

// ScheduleUpdate is a partial update: nil fields are left untouched.
type ScheduleUpdate struct {
	Definition *schedule.Definition
	Active     *bool
}

type RunInput struct {
	ID            uuid.UUID
	DeploymentID  uuid.UUID
	AutoScheduled bool
	State         string
	ScheduledFor  time.Time
}

type RunFilter struct {
	DeploymentID  *uuid.UUID
	AutoScheduled *bool
	State         string
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (models.DeploymentSchedule, error) {
	var (
		s       models.DeploymentSchedule
		defJSON []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.DeploymentID,
		&defJSON,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return models.DeploymentSchedule{}, err
	}
	if err := json.Unmarshal(defJSON, &s.Schedule); err != nil {
		return models.DeploymentSchedule{}, fmt.Errorf("decode schedule definition: %w", err)
	}
	return s, nil
}

func scanRun(row rowScanner) (models.Run, error) {
	var run models.Run
	if err := row.Scan(
		&run.ID,
		&run.DeploymentID,
		&run.AutoScheduled,
		&run.State,
		&run.ScheduledFor,
		&run.CreatedAt,
	); err != nil {
		return models.Run{}, err
	}
	return run, nil
}

const scheduleColumns = "id, deployment_id, definition, active, created_at, updated_at"

func (s *PGStore) CreateDeployment(ctx context.Context, in DeploymentInput) (models.Deployment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	const query = `
		INSERT INTO deployments (id, name)
		VALUES ($1,$2)
		RETURNING id, name, created_at
	`
	var d models.Deployment
	if err := s.db.QueryRowContext(ctx, query, in.ID, in.Name).Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
		return models.Deployment{}, fmt.Errorf("insert deployment: %w", err)
	}
	return d, nil
}

func (s *PGStore) DeploymentExists(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM deployments WHERE id=$1)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("deployment exists: %w", err)
	}
	return exists, nil
}

// lockDeployment serializes schedule mutations per deployment. Two mutations
// of the same deployment queue behind each other; different deployments do
// not block.
func lockDeployment(ctx context.Context, tx *sql.Tx, deploymentID uuid.UUID) error {
	const query = `SELECT 1 FROM deployments WHERE id=$1 FOR UPDATE`
	var one int
	if err := tx.QueryRowContext(ctx, query, deploymentID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDeploymentNotFound
		}
		return fmt.Errorf("lock deployment: %w", err)
	}
	return nil
}

// deleteScheduledRunsTx removes every auto-generated run still in the
// Scheduled state for the deployment. Manual runs and runs past Scheduled are
// never touched.
func deleteScheduledRunsTx(ctx context.Context, tx *sql.Tx, deploymentID uuid.UUID) (int64, error) {
	const query = `
		DELETE FROM runs
		WHERE deployment_id=$1 AND auto_scheduled=TRUE AND state=$2
	`
	res, err := tx.ExecContext(ctx, query, deploymentID, models.RunStateScheduled)
	if err != nil {
		return 0, fmt.Errorf("delete scheduled runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete scheduled runs: %w", err)
	}
	return n, nil
}

// CreateSchedules inserts all entries and invalidates the deployment's
// pending auto-generated runs in one transaction. Either every schedule lands
// and the run queue is cleared, or nothing changes.
func (s *PGStore) CreateSchedules(ctx context.Context, deploymentID uuid.UUID, in []ScheduleInput) ([]models.DeploymentSchedule, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDeployment(ctx, tx, deploymentID); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO deployment_schedules (id, deployment_id, definition, active)
		VALUES ($1,$2,$3,$4)
		RETURNING ` + scheduleColumns + `
	`
	created := make([]models.DeploymentSchedule, 0, len(in))
	for _, entry := range in {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		defJSON, err := json.Marshal(entry.Definition)
		if err != nil {
			return nil, fmt.Errorf("encode schedule definition: %w", err)
		}
		sched, err := scanSchedule(tx.QueryRowContext(ctx, query, entry.ID, deploymentID, defJSON, entry.Active))
		if err != nil {
			return nil, fmt.Errorf("insert schedule: %w", err)
		}
		created = append(created, sched)
	}

	if _, err := deleteScheduledRunsTx(ctx, tx, deploymentID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create schedules: %w", err)
	}
	return created, nil
}

func (s *PGStore) ListSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error) {
	return s.listSchedules(ctx, deploymentID, false)
}

// ListActiveSchedules is the materializer's read contract: the set of
// schedules it may generate runs from.
func (s *PGStore) ListActiveSchedules(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentSchedule, error) {
	return s.listSchedules(ctx, deploymentID, true)
}

func (s *PGStore) listSchedules(ctx context.Context, deploymentID uuid.UUID, activeOnly bool) ([]models.DeploymentSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM deployment_schedules
		WHERE deployment_id=$1
	`
	if activeOnly {
		query += " AND active=TRUE"
	}
	// created_at cannot order a batch: the column default is the transaction
	// timestamp, identical for every row inserted in one tx.
	query += " ORDER BY position"

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.DeploymentSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

func (s *PGStore) GetSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) (models.DeploymentSchedule, error) {
	const query = `
		SELECT ` + scheduleColumns + `
		FROM deployment_schedules
		WHERE deployment_id=$1 AND id=$2
	`
	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, deploymentID, scheduleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeploymentSchedule{}, ErrScheduleNotFound
		}
		return models.DeploymentSchedule{}, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

// UpdateSchedule applies a partial update. When invalidate is set the
// deployment's pending auto-generated runs are removed in the same
// transaction, so the materializer can never observe the new schedule state
// alongside runs generated under the old one.
func (s *PGStore) UpdateSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID, upd ScheduleUpdate, invalidate bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDeployment(ctx, tx, deploymentID); err != nil {
		return err
	}

	set := []string{"updated_at=NOW()"}
	args := []interface{}{deploymentID, scheduleID}
	argPos := 3
	if upd.Definition != nil {
		defJSON, err := json.Marshal(*upd.Definition)
		if err != nil {
			return fmt.Errorf("encode schedule definition: %w", err)
		}
		set = append(set, fmt.Sprintf("definition=$%d", argPos))
		args = append(args, defJSON)
		argPos++
	}
	if upd.Active != nil {
		set = append(set, fmt.Sprintf("active=$%d", argPos))
		args = append(args, *upd.Active)
		argPos++
	}

	query := `
		UPDATE deployment_schedules
		SET ` + strings.Join(set, ", ") + `
		WHERE deployment_id=$1 AND id=$2
	`
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}

	if invalidate {
		if _, err := deleteScheduledRunsTx(ctx, tx, deploymentID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes the schedule and invalidates the deployment's
// pending auto-generated runs in one transaction.
func (s *PGStore) DeleteSchedule(ctx context.Context, deploymentID, scheduleID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDeployment(ctx, tx, deploymentID); err != nil {
		return err
	}

	const query = `DELETE FROM deployment_schedules WHERE deployment_id=$1 AND id=$2`
	res, err := tx.ExecContext(ctx, query, deploymentID, scheduleID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}

	if _, err := deleteScheduledRunsTx(ctx, tx, deploymentID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete schedule: %w", err)
	}
	return nil
}

// DeleteSchedulesForDeployment is the deployment-deletion cascade path. It is
// not exposed over HTTP.
func (s *PGStore) DeleteSchedulesForDeployment(ctx context.Context, deploymentID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockDeployment(ctx, tx, deploymentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM deployment_schedules WHERE deployment_id=$1`, deploymentID); err != nil {
		return fmt.Errorf("delete schedules: %w", err)
	}
	if _, err := deleteScheduledRunsTx(ctx, tx, deploymentID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete schedules: %w", err)
	}
	return nil
}

// DeleteScheduledRuns is the standalone invalidation primitive. Idempotent:
// a second call finds nothing left to delete.
func (s *PGStore) DeleteScheduledRuns(ctx context.Context, deploymentID uuid.UUID) (int64, error) {
	const query = `
		DELETE FROM runs
		WHERE deployment_id=$1 AND auto_scheduled=TRUE AND state=$2
	`
	res, err := s.db.ExecContext(ctx, query, deploymentID, models.RunStateScheduled)
	if err != nil {
		return 0, fmt.Errorf("delete scheduled runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete scheduled runs: %w", err)
	}
	return n, nil
}

func (s *PGStore) CreateRun(ctx context.Context, in RunInput) (models.Run, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	if in.State == "" {
		in.State = models.RunStateScheduled
	}
	if in.ScheduledFor.IsZero() {
		in.ScheduledFor = time.Now().UTC()
	}
	const query = `
		INSERT INTO runs (id, deployment_id, auto_scheduled, state, scheduled_for)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, deployment_id, auto_scheduled, state, scheduled_for, created_at
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, in.ID, in.DeploymentID, in.AutoScheduled, in.State, in.ScheduledFor))
	if err != nil {
		return models.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *PGStore) ListRuns(ctx context.Context, filter RunFilter) ([]models.Run, error) {
	query := `
		SELECT id, deployment_id, auto_scheduled, state, scheduled_for, created_at
		FROM runs
		WHERE 1=1
	`
	args := []interface{}{}
	argPos := 1
	if filter.DeploymentID != nil {
		query += fmt.Sprintf(" AND deployment_id = $%d", argPos)
		args = append(args, *filter.DeploymentID)
		argPos++
	}
	if filter.AutoScheduled != nil {
		query += fmt.Sprintf(" AND auto_scheduled = $%d", argPos)
		args = append(args, *filter.AutoScheduled)
		argPos++
	}
	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argPos)
		args = append(args, filter.State)
	}
	query += " ORDER BY scheduled_for, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
