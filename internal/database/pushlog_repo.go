package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mixelka/mailpush/pkg/models"
)

// CreatePushLog appends one delivery-attempt row
func (db *DB) CreatePushLog(ctx context.Context, entry *models.PushLog) error {
	query := `
		INSERT INTO push_logs (message_id, channel_id, status, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		entry.MessageID,
		entry.ChannelID,
		entry.Status,
		entry.ErrorMsg,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create push log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	entry.ID = id
	entry.CreatedAt = now
	return nil
}

// CountPushesSince counts delivery attempts for a channel since the
// given time. Durable rows back the rate-limit window so the count
// survives restarts.
func (db *DB) CountPushesSince(ctx context.Context, channelID int64, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM push_logs WHERE channel_id = ? AND created_at >= ?`
	err := db.GetContext(ctx, &count, query, channelID, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count pushes: %w", err)
	}
	return count, nil
}

// GetPushLogsForChannel returns recent delivery attempts, newest first
func (db *DB) GetPushLogsForChannel(ctx context.Context, channelID int64, limit int) ([]*models.PushLog, error) {
	var logs []*models.PushLog
	query := `SELECT * FROM push_logs WHERE channel_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	err := db.SelectContext(ctx, &logs, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get push logs: %w", err)
	}
	return logs, nil
}
