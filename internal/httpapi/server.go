package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/t77yq/port-monitor/internal/alert"
	"github.com/t77yq/port-monitor/internal/model"
	"github.com/t77yq/port-monitor/internal/scheduler"
	"github.com/t77yq/port-monitor/internal/storage"
)

// Store is the persistence used by the API
type Store interface {
	CreateTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, task *model.Task) error
	DeleteTask(ctx context.Context, id string) error
	LoadTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)
	SetRunState(ctx context.Context, id string, state model.RunState) error
	ListLogs(ctx context.Context, taskID string, limit int) ([]model.CheckResult, error)
	SaveWebhookEndpoint(ctx context.Context, url string) (*storage.WebhookConfig, error)
	LatestWebhookConfig(ctx context.Context) (*storage.WebhookConfig, error)
	Ping() error
}

// Engine controls task timers
type Engine interface {
	StartTask(task *model.Task) error
	StopTask(id string)
	RunOnce(ctx context.Context, task *model.Task) (model.CheckResult, error)
	NextRun(id string) (time.Time, bool)
}

// AlertTester sends a sample alert
type AlertTester interface {
	SendTest(ctx context.Context) error
}

// StatsSource provides engine stats
type StatsSource interface {
	Snapshot(ctx context.Context) model.EngineStats
}

// Server is the HTTP command layer in front of the engine
type Server struct {
	Logger         *zap.Logger
	Store          Store
	Engine         Engine
	Alerts         AlertTester
	Stats          StatsSource
	AllowedOrigins []string
}

// NewServer creates an API server
func NewServer(l *zap.Logger, store Store, engine Engine, alerts AlertTester, stats StatsSource) *Server {
	return &Server{
		Logger: l.Named("http"),
		Store:  store,
		Engine: engine,
		Alerts: alerts,
		Stats:  stats,
	}
}

// Router builds the HTTP handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	if len(s.AllowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/start", s.handleStartTask)
				r.Post("/stop", s.handleStopTask)
				r.Post("/check", s.handleCheckTask)
				r.Get("/logs", s.handleListLogs)
			})
		})

		r.Get("/webhook", s.handleGetWebhook)
		r.Post("/webhook", s.handleSaveWebhook)
		r.Post("/webhook/test", s.handleTestWebhook)

		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.Store.ListTasks(r.Context())
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, s.taskResponse(task))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.decodeTask(w, r)
	if !ok {
		return
	}
	if err := s.Store.CreateTask(r.Context(), task); err != nil {
		s.internalError(w, "create task", err)
		return
	}
	s.Logger.Info("Task created", zap.String("task_id", task.ID), zap.String("task", task.String()))
	writeJSON(w, http.StatusCreated, s.taskResponse(task))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.taskResponse(task))
}

// handleUpdateTask replaces a task definition. The task's timer is stopped
// and it stays stopped until started again.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.decodeTask(w, r)
	if !ok {
		return
	}
	task.ID = chi.URLParam(r, "id")

	s.Engine.StopTask(task.ID)
	if err := s.Store.UpdateTask(r.Context(), task); err != nil {
		s.storeError(w, "update task", err)
		return
	}
	updated, err := s.Store.LoadTask(r.Context(), task.ID)
	if err != nil {
		s.storeError(w, "load task", err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskResponse(updated))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Engine.StopTask(id)
	if err := s.Store.DeleteTask(r.Context(), id); err != nil {
		s.storeError(w, "delete task", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "task deleted"})
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	if err := s.Engine.StartTask(task); err != nil {
		writeTaskError(w, err)
		return
	}
	if err := s.Store.SetRunState(r.Context(), task.ID, model.RunStateRunning); err != nil {
		s.Engine.StopTask(task.ID)
		s.storeError(w, "persist run state", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "task started"})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.Engine.StopTask(id)
	if err := s.Store.SetRunState(r.Context(), id, model.RunStateStopped); err != nil {
		s.storeError(w, "persist run state", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "task stopped"})
}

func (s *Server) handleCheckTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadTask(w, r)
	if !ok {
		return
	}
	result, err := s.Engine.RunOnce(r.Context(), task)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := s.Store.ListLogs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.internalError(w, "list logs", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Store.LatestWebhookConfig(r.Context())
	if err != nil {
		s.internalError(w, "load webhook", err)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if !isValidWebhookURL(req.WebhookURL) {
		writeError(w, http.StatusBadRequest, "webhook_url must be an http(s) URL")
		return
	}

	cfg, err := s.Store.SaveWebhookEndpoint(r.Context(), req.WebhookURL)
	if err != nil {
		s.internalError(w, "save webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	err := s.Alerts.SendTest(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: "test alert sent"})
	case errors.Is(err, alert.ErrWebhookNotConfigured):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.Logger.Warn("Test alert failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats.Snapshot(r.Context()))
}

func (s *Server) decodeTask(w http.ResponseWriter, r *http.Request) (*model.Task, bool) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return nil, false
	}
	task, err := req.toTask()
	if err != nil {
		writeTaskError(w, err)
		return nil, false
	}
	return task, true
}

func (s *Server) loadTask(w http.ResponseWriter, r *http.Request) (*model.Task, bool) {
	task, err := s.Store.LoadTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, "load task", err)
		return nil, false
	}
	return task, true
}

func (s *Server) taskResponse(task *model.Task) taskResponse {
	resp := newTaskResponse(task)
	if next, ok := s.Engine.NextRun(task.ID); ok && !next.IsZero() {
		resp.NextRun = &next
	}
	return resp
}

func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, model.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.internalError(w, op, err)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.Logger.Error("Request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// writeTaskError maps task validation and engine errors onto status codes
func writeTaskError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, errUnknownKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrSchedulerClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func isValidWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
