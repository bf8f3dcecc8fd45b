package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/database"
	"github.com/smukkama/welfare-notifier/internal/emergency"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/scheduler"
)

// Scheduler is the runner surface exposed to operators
type Scheduler interface {
	Status() scheduler.Status
	Restart() error
}

// Poller runs an immediate emergency check
type Poller interface {
	Poll(ctx context.Context) emergency.PollReport
}

// ReminderManager creates and toggles reminders
type ReminderManager interface {
	Create(ctx context.Context, rs *models.ReminderSchedule) error
	Activate(ctx context.Context, id int64) error
	Deactivate(ctx context.Context, id int64) error
}

// Server is the operator HTTP surface
type Server struct {
	mux       *http.ServeMux
	scheduler Scheduler
	poller    Poller
	reminders ReminderManager
	logger    *zap.Logger
}

// NewServer wires the routes. reminders may be nil when reminders are disabled.
func NewServer(sched Scheduler, poller Poller, reminders ReminderManager, logger *zap.Logger) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		scheduler: sched,
		poller:    poller,
		reminders: reminders,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /scheduler/status", s.handleStatus)
	s.mux.HandleFunc("POST /scheduler/restart", s.handleRestart)
	s.mux.HandleFunc("POST /emergency/check", s.handleEmergencyCheck)

	if s.reminders != nil {
		s.mux.HandleFunc("POST /reminders", s.handleCreateReminder)
		s.mux.HandleFunc("POST /reminders/{id}/activate", s.handleReminderToggle(true))
		s.mux.HandleFunc("POST /reminders/{id}/deactivate", s.handleReminderToggle(false))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server for addr with sane timeouts
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		// an emergency check can take as long as a full dispatch
		WriteTimeout: 10 * time.Minute,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if err := s.scheduler.Restart(); err != nil {
		s.logger.Error("Scheduler restart failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("Scheduler restarted by operator")
	writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) handleEmergencyCheck(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Emergency check requested by operator")
	// The check runs to completion even if the operator disconnects.
	report := s.poller.Poll(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, report)
}

type reminderRequest struct {
	RecipientID      int64  `json:"recipient_id"`
	ScheduleType     string `json:"schedule_type"`
	TimeOfDay        string `json:"time_of_day"`
	DayOfWeekOrMonth *int   `json:"day_of_week_or_month"`
	Message          string `json:"message"`
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rs := &models.ReminderSchedule{
		RecipientID:      req.RecipientID,
		ScheduleType:     models.ScheduleType(req.ScheduleType),
		TimeOfDay:        req.TimeOfDay,
		DayOfWeekOrMonth: req.DayOfWeekOrMonth,
		Message:          req.Message,
	}
	if err := database.ValidateReminder(rs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.reminders.Create(r.Context(), rs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": rs.ID})
}

func (s *Server) handleReminderToggle(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid reminder id"))
			return
		}

		if active {
			err = s.reminders.Activate(r.Context(), id)
		} else {
			err = s.reminders.Deactivate(r.Context(), id)
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": active})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrReminderLimit):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
