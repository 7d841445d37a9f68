package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	AlertTypeEmailDeliveryFailure = "email_delivery_failure"
	SeverityMedium                = "medium"
)

type SecurityAlert struct {
	ID          uuid.UUID `json:"id"`
	AlertType   string    `json:"alert_type"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	AlertData   AlertData `json:"alert_data"`
	CreatedAt   time.Time `json:"created_at"`

	// RawAlertData holds alert_data verbatim when it does not decode into
	// AlertData, e.g. alerts written by other producers.
	RawAlertData json.RawMessage `json:"raw_alert_data,omitempty"`
}

type AlertData struct {
	EmailID   uuid.UUID `json:"email_id"`
	EmailType string    `json:"email_type"`
	Recipient string    `json:"recipient"`
	Error     string    `json:"error"`
}

// DeliveryFailureAlert builds the alert raised when a job exhausts its retries.
func DeliveryFailureAlert(job QueuedEmail, attempts int, errMsg string) SecurityAlert {
	return SecurityAlert{
		AlertType:   AlertTypeEmailDeliveryFailure,
		Severity:    SeverityMedium,
		Description: fmt.Sprintf("Failed to send email to %s after %d attempts", job.RecipientEmail, attempts),
		AlertData: AlertData{
			EmailID:   job.ID,
			EmailType: job.EmailType,
			Recipient: job.RecipientEmail,
			Error:     errMsg,
		},
	}
}
