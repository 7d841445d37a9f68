package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"MailQueue/internal/models"
)

var ErrNotClaimed = errors.New("db: job not claimable")

var queueColumns = []string{
	"id",
	"email_type",
	"recipient_email",
	"email_content",
	"status",
	"retry_count",
	"max_retries",
	"error_message",
	"scheduled_for",
	"last_attempt_at",
	"sent_at",
	"created_at",
}

var claimableStatuses = []string{
	string(models.StatusPending),
	string(models.StatusFailed),
}

func scanEmail(row pgx.Row) (models.QueuedEmail, error) {
	var (
		e      models.QueuedEmail
		status string
	)

	err := row.Scan(
		&e.ID,
		&e.EmailType,
		&e.RecipientEmail,
		&e.EmailContent,
		&status,
		&e.RetryCount,
		&e.MaxRetries,
		&e.ErrorMessage,
		&e.ScheduledFor,
		&e.LastAttemptAt,
		&e.SentAt,
		&e.CreatedAt,
	)
	e.Status = models.Status(status)

	return e, err
}

// FetchEligible returns up to limit jobs that may be attempted now,
// oldest first.
func (s *Store) FetchEligible(ctx context.Context, limit int, now time.Time) ([]models.QueuedEmail, error) {
	query, args, err := s.psql.Select(queueColumns...).
		From(queueTable).
		Where(sq.Eq{"status": claimableStatuses}).
		Where("retry_count < max_retries").
		Where(sq.Or{
			sq.Eq{"scheduled_for": nil},
			sq.LtOrEq{"scheduled_for": now},
		}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query eligible emails: %w", err)
	}
	defer rows.Close()

	var emails []models.QueuedEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued email: %w", err)
		}
		emails = append(emails, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued emails: %w", err)
	}

	return emails, nil
}

// RecentEmails returns up to limit jobs, newest first. An empty status
// lists every status.
func (s *Store) RecentEmails(ctx context.Context, limit int, status models.Status) ([]models.QueuedEmail, error) {
	builder := s.psql.Select(queueColumns...).
		From(queueTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if status != "" {
		builder = builder.Where(sq.Eq{"status": string(status)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent emails: %w", err)
	}
	defer rows.Close()

	emails := make([]models.QueuedEmail, 0)
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued email: %w", err)
		}
		emails = append(emails, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued emails: %w", err)
	}

	return emails, nil
}

// Claim moves an eligible job to sending. It returns ErrNotClaimed when the
// row is no longer eligible, e.g. another run took it first.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, at time.Time) (models.QueuedEmail, error) {
	query, args, err := s.psql.Update(queueTable).
		Set("status", string(models.StatusSending)).
		Set("last_attempt_at", at).
		Where(sq.Eq{"id": id.String()}).
		Where(sq.Eq{"status": claimableStatuses}).
		Where("retry_count < max_retries").
		Suffix("RETURNING " + strings.Join(queueColumns, ", ")).
		ToSql()
	if err != nil {
		return models.QueuedEmail{}, fmt.Errorf("build claim query: %w", err)
	}

	e, err := scanEmail(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueuedEmail{}, ErrNotClaimed
	}
	if err != nil {
		return models.QueuedEmail{}, fmt.Errorf("claim email %s: %w", id, err)
	}

	return e, nil
}

// MarkSent records a successful delivery. Only a row in sending is updated,
// so sent_at is written once.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query, args, err := s.psql.Update(queueTable).
		Set("status", string(models.StatusSent)).
		Set("sent_at", at).
		Where(sq.Eq{"id": id.String()}).
		Where(sq.Eq{"status": string(models.StatusSending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	return s.execOne(ctx, id, query, args)
}

// MarkFailed records a failed attempt with its new retry count and reason.
func (s *Store) MarkFailed(
	ctx context.Context,
	id uuid.UUID,
	status models.Status,
	retryCount int,
	errorMsg string,
	at time.Time,
) error {
	if status != models.StatusFailed && status != models.StatusPermanentlyFailed {
		return fmt.Errorf("mark failed: invalid status %q", status)
	}

	query, args, err := s.psql.Update(queueTable).
		Set("status", string(status)).
		Set("retry_count", retryCount).
		Set("error_message", errorMsg).
		Set("last_attempt_at", at).
		Where(sq.Eq{"id": id.String()}).
		Where(sq.Eq{"status": string(models.StatusSending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	return s.execOne(ctx, id, query, args)
}

// Enqueue inserts a pending job. A zero ID or MaxRetries is filled in.
func (s *Store) Enqueue(ctx context.Context, e *models.QueuedEmail) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = models.DefaultMaxRetries
	}
	e.Status = models.StatusPending
	e.RetryCount = 0

	query, args, err := s.psql.Insert(queueTable).
		Columns(
			"id",
			"email_type",
			"recipient_email",
			"email_content",
			"status",
			"retry_count",
			"max_retries",
			"scheduled_for",
		).
		Values(
			e.ID.String(),
			e.EmailType,
			e.RecipientEmail,
			e.EmailContent,
			string(e.Status),
			e.RetryCount,
			e.MaxRetries,
			e.ScheduledFor,
		).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	if err := s.db.QueryRow(ctx, query, args...).Scan(&e.CreatedAt); err != nil {
		return fmt.Errorf("insert queued email: %w", err)
	}

	return nil
}

// ResetForRetry puts a failed or permanently failed job back to pending with
// a fresh retry budget.
func (s *Store) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	query, args, err := s.psql.Update(queueTable).
		Set("status", string(models.StatusPending)).
		Set("retry_count", 0).
		Set("error_message", nil).
		Where(sq.Eq{"id": id.String()}).
		Where(sq.Eq{"status": []string{
			string(models.StatusFailed),
			string(models.StatusPermanentlyFailed),
		}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	return s.execOne(ctx, id, query, args)
}

// StatusCounts returns the number of jobs per status. Every known status is
// present in the result.
func (s *Store) StatusCounts(ctx context.Context) (map[models.Status]int64, error) {
	query, args, err := s.psql.Select("status", "COUNT(*)").
		From(queueTable).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count queued emails: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		counts[st] = 0
	}

	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.Status(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	return counts, nil
}

func (s *Store) execOne(ctx context.Context, id uuid.UUID, query string, args []any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update email %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	return nil
}
