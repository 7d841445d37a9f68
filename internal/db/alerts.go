package db

import (
	"context"
	"encoding/json"
	"fmt"

	"MailQueue/internal/models"
)

var alertColumns = []string{
	"id",
	"alert_type",
	"severity",
	"description",
	"alert_data",
	"created_at",
}

// InsertAlert appends a row to security_alerts.
func (s *Store) InsertAlert(ctx context.Context, alert models.SecurityAlert) error {
	data, err := json.Marshal(alert.AlertData)
	if err != nil {
		return fmt.Errorf("marshal alert data: %w", err)
	}

	query, args, err := s.psql.Insert(alertsTable).
		Columns("alert_type", "severity", "description", "alert_data").
		Values(alert.AlertType, alert.Severity, alert.Description, data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert security alert: %w", err)
	}

	return nil
}

// RecentAlerts returns the newest alerts first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]models.SecurityAlert, error) {
	query, args, err := s.psql.Select(alertColumns...).
		From(alertsTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.SecurityAlert, 0)
	for rows.Next() {
		var (
			a    models.SecurityAlert
			data []byte
		)
		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Description, &data, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security alert: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &a.AlertData); err != nil {
				a.AlertData = models.AlertData{}
				a.RawAlertData = json.RawMessage(data)
			}
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security alerts: %w", err)
	}

	return alerts, nil
}
