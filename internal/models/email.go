package models

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusSending           Status = "sending"
	StatusSent              Status = "sent"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

// DefaultMaxRetries is applied when a producer does not set max_retries.
const DefaultMaxRetries = 3

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusSending,
	StatusSent,
	StatusFailed,
	StatusPermanentlyFailed,
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusPermanentlyFailed
}

// Retryable reports whether an operator may reset a job in status s.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusPermanentlyFailed
}

// QueuedEmail is one row of email_send_queue.
type QueuedEmail struct {
	ID             uuid.UUID `json:"id"`
	EmailType      string    `json:"email_type"`
	RecipientEmail string    `json:"recipient_email"`
	EmailContent   string    `json:"email_content"`

	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Eligible mirrors the selection predicate used by the store.
func (e QueuedEmail) Eligible(now time.Time) bool {
	if e.Status != StatusPending && e.Status != StatusFailed {
		return false
	}
	if e.RetryCount >= e.MaxRetries {
		return false
	}
	return e.ScheduledFor == nil || !e.ScheduledFor.After(now)
}
