package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftplane/schedcore/internal/models"
	"github.com/driftplane/schedcore/internal/schedule"
	"github.com/driftplane/schedcore/internal/service"
	"github.com/driftplane/schedcore/internal/store"
)

type Server struct {
	service *service.Service
	store   store.Store
	log     zerolog.Logger
}

func New(svc *service.Service, st store.Store, log zerolog.Logger) *Server {
	return &Server{service: svc, store: st, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)

	r.Route("/deployments/{deploymentID}/schedules", func(r chi.Router) {
		r.Post("/", s.handleCreateSchedules)
		r.Get("/", s.handleListSchedules)
		r.Patch("/{scheduleID}", s.handleUpdateSchedule)
		r.Delete("/{scheduleID}", s.handleDeleteSchedule)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// scheduleCreateRequest mirrors one entry of the POST body: the definition
// plus an optional initial active flag (default true).
type scheduleCreateRequest struct {
	Schedule schedule.Definition `json:"schedule"`
	Active   *bool               `json:"active,omitempty"`
}

func (s *Server) handleCreateSchedules(w http.ResponseWriter, r *http.Request) {
	deploymentID, ok := s.deploymentID(w, r)
	if !ok {
		return
	}
	var reqs []scheduleCreateRequest
	if err := decodeJSON(w, r, &reqs); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	creates := make([]service.ScheduleCreate, len(reqs))
	for i, req := range reqs {
		creates[i] = service.ScheduleCreate{Definition: req.Schedule, Active: req.Active}
	}
	created, err := s.service.CreateSchedules(r.Context(), deploymentID, creates)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	deploymentID, ok := s.deploymentID(w, r)
	if !ok {
		return
	}
	schedules, err := s.service.ListSchedules(r.Context(), deploymentID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if schedules == nil {
		schedules = []models.DeploymentSchedule{}
	}
	respondJSON(w, http.StatusOK, schedules)
}

type scheduleUpdateRequest struct {
	Schedule *schedule.Definition `json:"schedule,omitempty"`
	Active   *bool                `json:"active,omitempty"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	deploymentID, ok := s.deploymentID(w, r)
	if !ok {
		return
	}
	scheduleID, ok := s.scheduleID(w, r)
	if !ok {
		return
	}
	var req scheduleUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	err := s.service.UpdateSchedule(r.Context(), deploymentID, scheduleID, service.ScheduleUpdate{
		Definition: req.Schedule,
		Active:     req.Active,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	deploymentID, ok := s.deploymentID(w, r)
	if !ok {
		return
	}
	scheduleID, ok := s.scheduleID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteSchedule(r.Context(), deploymentID, scheduleID); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deploymentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "deploymentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid deployment id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) scheduleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid schedule id")
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps coordinator errors onto the API contract. The two
// not-found kinds keep distinct bodies ("Deployment not found" vs "Schedule
// not found") so the caller can tell which reference was bad, while foreign
// and missing schedule ids remain indistinguishable.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	var verr *schedule.ValidationError
	switch {
	case errors.Is(err, store.ErrDeploymentNotFound):
		respondError(w, http.StatusNotFound, "Deployment not found")
	case errors.As(err, &verr):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrScheduleNotFound):
		respondError(w, http.StatusNotFound, "Schedule not found")
	default:
		s.log.Error().Err(err).Msg("schedule mutation failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var verr *schedule.ValidationError
	if errors.As(err, &verr) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
