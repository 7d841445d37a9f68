package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"MailQueue/internal/models"
	"MailQueue/internal/worker"
)

// CronTokenHeader carries the shared secret on every authenticated request.
const CronTokenHeader = "x-cron-token"

type QueueRunner interface {
	Run(ctx context.Context) (models.RunResult, error)
}

type QueueStore interface {
	Enqueue(ctx context.Context, e *models.QueuedEmail) error
	ResetForRetry(ctx context.Context, id uuid.UUID) error
	RecentEmails(ctx context.Context, limit int, status models.Status) ([]models.QueuedEmail, error)
	StatusCounts(ctx context.Context) (map[models.Status]int64, error)
	RecentAlerts(ctx context.Context, limit int) ([]models.SecurityAlert, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	Runner    QueueRunner
	Store     QueueStore
	CronToken string
	Log       *zap.Logger
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"authorization", "x-client-info", "apikey", "content-type", CronTokenHeader},
	}))

	r.Get("/healthz", h.Health)

	// Plain OPTIONS requests reach the handler and must not need a token.
	r.HandleFunc("/process-email-queue", h.ProcessQueue)

	r.Group(func(r chi.Router) {
		r.Use(h.requireCronToken)

		r.Get("/queue", h.ListQueue)
		r.Post("/queue", h.Enqueue)
		r.Post("/queue/{id}/retry", h.Retry)
		r.Get("/queue/stats", h.Stats)
		r.Get("/alerts", h.Alerts)
	})

	return r
}

func (h *Handler) authorized(r *http.Request) bool {
	token := r.Header.Get(CronTokenHeader)
	if token == "" || h.CronToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.CronToken)) == 1
}

func (h *Handler) requireCronToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ProcessQueue drains one batch of the email queue.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.authorized(r) {
		h.Log.Warn("rejected queue trigger", zap.String("remote_addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	result, err := h.Runner.Run(r.Context())
	switch {
	case errors.Is(err, worker.ErrRunInProgress):
		writeError(w, http.StatusConflict, "Queue processing already in progress")
		return
	case err != nil:
		h.Log.Error("queue processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Fetched == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "No emails to process",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":            "Queue processed",
		"sent":               result.Sent,
		"failed":             result.Failed,
		"permanent_failures": result.PermanentFailures,
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
