package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftplane/schedcore/internal/models"
	"github.com/driftplane/schedcore/internal/service"
	"github.com/driftplane/schedcore/internal/store"
)

func newTestServer(t *testing.T) (*store.MemoryStore, http.Handler) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := service.New(st, nil, zerolog.Nop())
	return st, New(svc, st, zerolog.Nop()).Router()
}

func doRequest(router http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func schedulesPath(deploymentID uuid.UUID) string {
	return fmt.Sprintf("/deployments/%s/schedules", deploymentID)
}

func schedulePath(deploymentID, scheduleID uuid.UUID) string {
	return fmt.Sprintf("/deployments/%s/schedules/%s", deploymentID, scheduleID)
}

func seedDeployment(t *testing.T, st *store.MemoryStore) models.Deployment {
	t.Helper()
	d, err := st.CreateDeployment(context.Background(), store.DeploymentInput{Name: "etl"})
	require.NoError(t, err)
	return d
}

func seedScheduledRuns(t *testing.T, st *store.MemoryStore, deploymentID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := st.CreateRun(context.Background(), store.RunInput{
			DeploymentID:  deploymentID,
			AutoScheduled: true,
			State:         models.RunStateScheduled,
		})
		require.NoError(t, err)
	}
}

func countScheduledRuns(t *testing.T, st *store.MemoryStore, deploymentID uuid.UUID) int {
	t.Helper()
	auto := true
	runs, err := st.ListRuns(context.Background(), store.RunFilter{
		DeploymentID:  &deploymentID,
		AutoScheduled: &auto,
		State:         models.RunStateScheduled,
	})
	require.NoError(t, err)
	return len(runs)
}

const twoIntervalsBody = `[
	{"schedule":{"type":"interval","interval":{"intervalSeconds":86400,"timezone":"UTC"}}},
	{"schedule":{"type":"interval","interval":{"intervalSeconds":172800,"timezone":"UTC"}}}
]`

func createTwoSchedules(t *testing.T, router http.Handler, deploymentID uuid.UUID) []models.DeploymentSchedule {
	t.Helper()
	rec := doRequest(router, http.MethodPost, schedulesPath(deploymentID), []byte(twoIntervalsBody))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created []models.DeploymentSchedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func TestCreateAndListSchedules(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)

	created := createTwoSchedules(t, router, d.ID)
	require.Len(t, created, 2)
	assert.NotEqual(t, created[0].ID, created[1].ID)
	assert.True(t, created[0].Active)
	assert.True(t, created[1].Active)

	rec := doRequest(router, http.MethodGet, schedulesPath(d.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.DeploymentSchedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, created[0].ID, listed[0].ID)
	assert.Equal(t, created[1].ID, listed[1].ID)
	assert.Equal(t, int64(86400), listed[0].Schedule.Interval.IntervalSeconds)
}

func TestCreateSchedulesUnknownDeployment(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(router, http.MethodPost, schedulesPath(uuid.New()), []byte(twoIntervalsBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Deployment")
}

func TestCreateSchedulesAllOrNothing(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)

	body := `[
		{"schedule":{"type":"interval","interval":{"intervalSeconds":86400}}},
		{"schedule":{"type":"interval","interval":{"intervalSeconds":-5}}}
	]`
	rec := doRequest(router, http.MethodPost, schedulesPath(d.ID), []byte(body))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "intervalSeconds")

	listRec := doRequest(router, http.MethodGet, schedulesPath(d.ID), nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listed []models.DeploymentSchedule
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestCreateSchedulesUnknownDefinitionType(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)

	body := `[{"schedule":{"type":"lunar"}}]`
	rec := doRequest(router, http.MethodPost, schedulesPath(d.ID), []byte(body))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListSchedulesUnknownDeployment(t *testing.T) {
	_, router := newTestServer(t)
	rec := doRequest(router, http.MethodGet, schedulesPath(uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Deployment")
}

func TestPatchScheduleDeactivatesAndClearsRuns(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)
	created := createTwoSchedules(t, router, d.ID)
	seedScheduledRuns(t, st, d.ID, 3)

	rec := doRequest(router, http.MethodPatch, schedulePath(d.ID, created[0].ID), []byte(`{"active":false}`))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Body.String())

	got, err := st.GetSchedule(context.Background(), d.ID, created[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 0, countScheduledRuns(t, st, d.ID))
}

func TestDeleteScheduleClearsRuns(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)
	created := createTwoSchedules(t, router, d.ID)
	seedScheduledRuns(t, st, d.ID, 3)

	rec := doRequest(router, http.MethodDelete, schedulePath(d.ID, created[0].ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	listRec := doRequest(router, http.MethodGet, schedulesPath(d.ID), nil)
	var listed []models.DeploymentSchedule
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created[1].ID, listed[0].ID)
	assert.Equal(t, 0, countScheduledRuns(t, st, d.ID))
}

func TestPatchScheduleNotFoundScoping(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)
	createTwoSchedules(t, router, d.ID)

	// never-created id under an existing deployment names the schedule
	rec := doRequest(router, http.MethodPatch, schedulePath(d.ID, uuid.New()), []byte(`{"active":false}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Schedule")

	// unknown deployment names the deployment
	other := seedDeployment(t, st)
	foreign := createTwoSchedules(t, router, other.ID)
	rec = doRequest(router, http.MethodPatch, schedulePath(uuid.New(), foreign[0].ID), []byte(`{"active":false}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Deployment")

	// foreign schedule id behaves exactly like a missing one
	rec = doRequest(router, http.MethodPatch, schedulePath(d.ID, foreign[0].ID), []byte(`{"active":false}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Schedule")
}

func TestDeleteScheduleNotFoundScoping(t *testing.T) {
	st, router := newTestServer(t)
	d := seedDeployment(t, st)
	created := createTwoSchedules(t, router, d.ID)

	rec := doRequest(router, http.MethodDelete, schedulePath(d.ID, uuid.New()), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Schedule")

	rec = doRequest(router, http.MethodDelete, schedulePath(uuid.New(), created[0].ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Deployment")
}

func TestInvalidIDsRejected(t *testing.T) {
	_, router := newTestServer(t)

	rec := doRequest(router, http.MethodGet, "/deployments/not-a-uuid/schedules", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	d := uuid.New()
	rec = doRequest(router, http.MethodPatch, "/deployments/"+d.String()+"/schedules/not-a-uuid", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	_, router := newTestServer(t)
	rec := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
