package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MailQueue/internal/db"
	"MailQueue/internal/models"
	"MailQueue/internal/worker"
)

const testToken = "s3cret-cron-token"

type fakeRunner struct {
	result models.RunResult
	err    error
	calls  int
}

func (f *fakeRunner) Run(ctx context.Context) (models.RunResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeStore struct {
	enqueued []models.QueuedEmail
	reset    []uuid.UUID
	resetErr error
	counts   map[models.Status]int64
	alerts   []models.SecurityAlert
	emails   []models.QueuedEmail
	limit    int
	status   models.Status
	pingErr  error
}

func (f *fakeStore) Enqueue(ctx context.Context, e *models.QueuedEmail) error {
	e.ID = uuid.New()
	if e.MaxRetries == 0 {
		e.MaxRetries = models.DefaultMaxRetries
	}
	f.enqueued = append(f.enqueued, *e)
	return nil
}

func (f *fakeStore) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.reset = append(f.reset, id)
	return nil
}

func (f *fakeStore) RecentEmails(ctx context.Context, limit int, status models.Status) ([]models.QueuedEmail, error) {
	f.limit = limit
	f.status = status
	return f.emails, nil
}

func (f *fakeStore) StatusCounts(ctx context.Context) (map[models.Status]int64, error) {
	return f.counts, nil
}

func (f *fakeStore) RecentAlerts(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	f.limit = limit
	return f.alerts, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func newTestHandler(runner *fakeRunner, store *fakeStore) http.Handler {
	h := &Handler{
		Runner:    runner,
		Store:     store,
		CronToken: testToken,
		Log:       zap.NewNop(),
	}
	return h.Routes()
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestProcessQueue_Unauthorized(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token"},
		{name: "wrong token", token: "guess"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			srv := newTestHandler(runner, &fakeStore{})

			req := httptest.NewRequest(http.MethodPost, "/process-email-queue", nil)
			if tt.token != "" {
				req.Header.Set(CronTokenHeader, tt.token)
			}
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "Unauthorized", decodeBody(t, rr)["error"])
			assert.Zero(t, runner.calls)
		})
	}
}

func TestProcessQueue_EmptySecretRejectsEverything(t *testing.T) {
	runner := &fakeRunner{}
	h := &Handler{Runner: runner, Store: &fakeStore{}, Log: zap.NewNop()}

	req := httptest.NewRequest(http.MethodPost, "/process-email-queue", nil)
	req.Header.Set(CronTokenHeader, "")
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, runner.calls)
}

func TestProcessQueue_Responses(t *testing.T) {
	tests := []struct {
		name       string
		runner     *fakeRunner
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "empty queue",
			runner:     &fakeRunner{},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"message": "No emails to process"},
		},
		{
			name:       "processed",
			runner:     &fakeRunner{result: models.RunResult{Fetched: 3, Sent: 1, Failed: 1, PermanentFailures: 1}},
			wantStatus: http.StatusOK,
			wantBody: map[string]any{
				"message":            "Queue processed",
				"sent":               float64(1),
				"failed":             float64(1),
				"permanent_failures": float64(1),
			},
		},
		{
			name:       "all claims lost",
			runner:     &fakeRunner{result: models.RunResult{Fetched: 2, Skipped: 2}},
			wantStatus: http.StatusOK,
			wantBody: map[string]any{
				"message":            "Queue processed",
				"sent":               float64(0),
				"failed":             float64(0),
				"permanent_failures": float64(0),
			},
		},
		{
			name:       "fetch failure",
			runner:     &fakeRunner{err: errors.New("fetch eligible emails: relation does not exist")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "fetch eligible emails: relation does not exist"},
		},
		{
			name:       "run in progress",
			runner:     &fakeRunner{err: worker.ErrRunInProgress},
			wantStatus: http.StatusConflict,
			wantBody:   map[string]any{"error": "Queue processing already in progress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestHandler(tt.runner, &fakeStore{})

			req := httptest.NewRequest(http.MethodPost, "/process-email-queue", nil)
			req.Header.Set(CronTokenHeader, testToken)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantBody, decodeBody(t, rr))
			assert.Equal(t, 1, tt.runner.calls)
		})
	}
}

func TestProcessQueue_Options(t *testing.T) {
	t.Run("plain options", func(t *testing.T) {
		runner := &fakeRunner{}
		srv := newTestHandler(runner, &fakeStore{})

		req := httptest.NewRequest(http.MethodOptions, "/process-email-queue", nil)
		req.Header.Set("Origin", "https://example.org")
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Body.String())
		assert.Zero(t, runner.calls)
	})

	t.Run("cors preflight", func(t *testing.T) {
		runner := &fakeRunner{}
		srv := newTestHandler(runner, &fakeStore{})

		req := httptest.NewRequest(http.MethodOptions, "/process-email-queue", nil)
		req.Header.Set("Origin", "https://example.org")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", CronTokenHeader)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Zero(t, runner.calls)
	})
}

func TestEnqueue(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		store := &fakeStore{}
		srv := newTestHandler(&fakeRunner{}, store)

		body := `{"email_type":"community_call","recipient_email":"user@example.com","email_content":"<p>tonight</p>"}`
		req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(body))
		req.Header.Set(CronTokenHeader, testToken)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusAccepted, rr.Code)
		require.Len(t, store.enqueued, 1)
		assert.Equal(t, store.enqueued[0].ID.String(), decodeBody(t, rr)["id"])
		assert.Equal(t, models.DefaultMaxRetries, store.enqueued[0].MaxRetries)
	})

	invalid := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing type", `{"recipient_email":"user@example.com","email_content":"<p>x</p>"}`},
		{"bad recipient", `{"email_type":"site_usage","recipient_email":"not-an-email","email_content":"<p>x</p>"}`},
		{"empty content", `{"email_type":"site_usage","recipient_email":"user@example.com","email_content":" "}`},
		{"max retries too high", `{"email_type":"site_usage","recipient_email":"user@example.com","email_content":"<p>x</p>","max_retries":50}`},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			srv := newTestHandler(&fakeRunner{}, store)

			req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(tt.body))
			req.Header.Set(CronTokenHeader, testToken)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, store.enqueued)
		})
	}

	t.Run("requires token", func(t *testing.T) {
		store := &fakeStore{}
		srv := newTestHandler(&fakeRunner{}, store)

		req := httptest.NewRequest(http.MethodPost, "/queue", strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRetry(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name       string
		path       string
		resetErr   error
		wantStatus int
	}{
		{name: "reset", path: "/queue/" + id.String() + "/retry", wantStatus: http.StatusOK},
		{name: "bad id", path: "/queue/nope/retry", wantStatus: http.StatusBadRequest},
		{name: "not retryable", path: "/queue/" + id.String() + "/retry", resetErr: fmt.Errorf("email %s: %w", id, db.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "store error", path: "/queue/" + id.String() + "/retry", resetErr: errors.New("timeout"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{resetErr: tt.resetErr}
			srv := newTestHandler(&fakeRunner{}, store)

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set(CronTokenHeader, testToken)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, []uuid.UUID{id}, store.reset)
			}
		})
	}
}

func TestStats(t *testing.T) {
	store := &fakeStore{counts: map[models.Status]int64{
		models.StatusSent:   40,
		models.StatusFailed: 2,
	}}
	srv := newTestHandler(&fakeRunner{}, store)

	req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
	req.Header.Set(CronTokenHeader, testToken)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{
		"pending":            float64(0),
		"sending":            float64(0),
		"sent":               float64(40),
		"failed":             float64(2),
		"permanently_failed": float64(0),
	}, decodeBody(t, rr))
}

func TestAlerts(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", wantStatus: http.StatusOK, wantLimit: 20},
		{name: "custom limit", query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{name: "capped limit", query: "?limit=500", wantStatus: http.StatusOK, wantLimit: 100},
		{name: "invalid limit", query: "?limit=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{alerts: []models.SecurityAlert{{ID: uuid.New(), AlertType: models.AlertTypeEmailDeliveryFailure}}}
			srv := newTestHandler(&fakeRunner{}, store)

			req := httptest.NewRequest(http.MethodGet, "/alerts"+tt.query, nil)
			req.Header.Set(CronTokenHeader, testToken)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantLimit, store.limit)
		})
	}
}

func TestListQueue(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
		wantFilter models.Status
	}{
		{name: "default limit", wantStatus: http.StatusOK, wantLimit: 50},
		{name: "capped limit", query: "?limit=1000", wantStatus: http.StatusOK, wantLimit: 200},
		{name: "stuck rows", query: "?status=sending&limit=10", wantStatus: http.StatusOK, wantLimit: 10, wantFilter: models.StatusSending},
		{name: "unknown status", query: "?status=bounced", wantStatus: http.StatusBadRequest},
		{name: "invalid limit", query: "?limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.New()
			store := &fakeStore{emails: []models.QueuedEmail{{
				ID:             id,
				EmailType:      "site_usage",
				RecipientEmail: "user@example.com",
				Status:         models.StatusSending,
				MaxRetries:     3,
			}}}
			srv := newTestHandler(&fakeRunner{}, store)

			req := httptest.NewRequest(http.MethodGet, "/queue"+tt.query, nil)
			req.Header.Set(CronTokenHeader, testToken)
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantLimit, store.limit)
			assert.Equal(t, tt.wantFilter, store.status)

			if tt.wantStatus == http.StatusOK {
				var got []models.QueuedEmail
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				require.Len(t, got, 1)
				assert.Equal(t, id, got[0].ID)
				assert.Equal(t, models.StatusSending, got[0].Status)
			}
		})
	}
}

func TestListQueue_RequiresToken(t *testing.T) {
	store := &fakeStore{}
	srv := newTestHandler(&fakeRunner{}, store)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, store.limit)
}

func TestHealth(t *testing.T) {
	srv := newTestHandler(&fakeRunner{}, &fakeStore{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	srv = newTestHandler(&fakeRunner{}, &fakeStore{pingErr: errors.New("down")})
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
