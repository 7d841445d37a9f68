package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"MailQueue/internal/db"
	"MailQueue/internal/models"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 200
	defaultAlertLimit = 20
	maxAlertLimit     = 100
	maxRetriesCeiling = 10
)

type enqueueRequest struct {
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	EmailContent   string     `json:"email_content"`
	MaxRetries     *int       `json:"max_retries,omitempty"`
	ScheduledFor   *time.Time `json:"scheduled_for,omitempty"`
}

func (req enqueueRequest) validate() error {
	if strings.TrimSpace(req.EmailType) == "" {
		return errors.New("email_type is required")
	}
	if _, err := mail.ParseAddress(req.RecipientEmail); err != nil {
		return errors.New("recipient_email must be a valid email address")
	}
	if strings.TrimSpace(req.EmailContent) == "" {
		return errors.New("email_content is required")
	}
	if req.MaxRetries != nil && (*req.MaxRetries < 1 || *req.MaxRetries > maxRetriesCeiling) {
		return errors.New("max_retries must be between 1 and 10")
	}
	return nil
}

// Enqueue adds a pending job to the queue.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := models.QueuedEmail{
		EmailType:      req.EmailType,
		RecipientEmail: req.RecipientEmail,
		EmailContent:   req.EmailContent,
		ScheduledFor:   req.ScheduledFor,
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}

	if err := h.Store.Enqueue(r.Context(), &job); err != nil {
		h.Log.Error("failed to enqueue email", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue email")
		return
	}

	h.Log.Info("email enqueued",
		zap.String("email_id", job.ID.String()),
		zap.String("email_type", job.EmailType),
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id": job.ID,
	})
}

// Retry resets a failed or permanently failed job to pending.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email id")
		return
	}

	err = h.Store.ResetForRetry(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, "email not found or not retryable")
		return
	case err != nil:
		h.Log.Error("failed to reset email", zap.String("email_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to retry email")
		return
	}

	h.Log.Info("email queued for retry", zap.String("email_id", id.String()))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email queued for retry"})
}

// Stats reports the number of jobs in each status.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.StatusCounts(r.Context())
	if err != nil {
		h.Log.Error("failed to load queue stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load queue stats")
		return
	}

	out := make(map[string]int64, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		out[string(st)] = counts[st]
	}

	writeJSON(w, http.StatusOK, out)
}

// ListQueue returns the newest queue rows, optionally filtered by status.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultQueueLimit, maxQueueLimit)
	if !ok {
		return
	}

	var status models.Status
	if v := r.URL.Query().Get("status"); v != "" {
		status = models.Status(v)
		if !slices.Contains(models.AllStatuses, status) {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}

	emails, err := h.Store.RecentEmails(r.Context(), limit, status)
	if err != nil {
		h.Log.Error("failed to list queued emails", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list queued emails")
		return
	}

	writeJSON(w, http.StatusOK, emails)
}

func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultAlertLimit, maxAlertLimit)
	if !ok {
		return
	}

	alerts, err := h.Store.RecentAlerts(r.Context(), limit)
	if err != nil {
		h.Log.Error("failed to load security alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load security alerts")
		return
	}

	writeJSON(w, http.StatusOK, alerts)
}

// parseLimit reads ?limit=, capping it at ceiling. It writes a 400 and returns
// false on a malformed value.
func parseLimit(w http.ResponseWriter, r *http.Request, def, ceiling int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, ceiling), true
}
