package database

import (
	"context"
	"fmt"

	"github.com/mixelka/mailpush/pkg/models"
)

// CreateAlert appends an operational alert for the user
func (db *DB) CreateAlert(ctx context.Context, alert *models.SystemAlert) error {
	query := `
		INSERT INTO system_alerts (user_id, level, source, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		alert.UserID,
		alert.Level,
		alert.Source,
		alert.Message,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	alert.ID = id
	alert.CreatedAt = now
	return nil
}

// GetUnreadAlerts returns unread alerts for a user, newest first
func (db *DB) GetUnreadAlerts(ctx context.Context, userID int64) ([]*models.SystemAlert, error) {
	var alerts []*models.SystemAlert
	query := `SELECT * FROM system_alerts WHERE user_id = ? AND is_read = false ORDER BY created_at DESC, id DESC`
	err := db.SelectContext(ctx, &alerts, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertAsRead marks one alert as read
func (db *DB) MarkAlertAsRead(ctx context.Context, id int64) error {
	query := `UPDATE system_alerts SET is_read = true WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert as read: %w", err)
	}
	return nil
}
