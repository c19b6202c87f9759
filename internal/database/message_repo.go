package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailpush/pkg/models"
)

// CreateMessage inserts a message, relying on the unique
// (account_id, message_id) index for de-duplication. Returns
// ErrAlreadyExists when the row was skipped as a duplicate.
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT OR IGNORE INTO messages (account_id, message_id, uid, from_addr, from_name, to_addrs, subject, body_text, body_html, raw_headers, attachments, received_at, is_read, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	attachments := msg.Attachments
	if attachments == "" {
		attachments = "[]"
	}
	result, err := db.ExecContext(ctx, query,
		msg.AccountID,
		msg.MessageID,
		msg.UID,
		msg.FromAddr,
		msg.FromName,
		msg.ToAddrs,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.RawHeaders,
		attachments,
		msg.ReceivedAt,
		msg.IsRead,
		msg.IsDeleted,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	msg.ID = id
	msg.Attachments = attachments
	msg.CreatedAt = now
	return nil
}

// GetMessageByID returns a message by ID
func (db *DB) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// FindMessageByMessageID returns a message by its provider identifier,
// or ErrNotFound.
func (db *DB) FindMessageByMessageID(ctx context.Context, accountID int64, messageID string) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE account_id = ? AND message_id = ?`
	err := db.GetContext(ctx, &msg, query, accountID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &msg, nil
}

// MarkMessageAsRead marks a message as read
func (db *DB) MarkMessageAsRead(ctx context.Context, id int64) error {
	query := `UPDATE messages SET is_read = true WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark message as read: %w", err)
	}
	return nil
}

// MarkMessageAsDeleted marks a message as deleted
func (db *DB) MarkMessageAsDeleted(ctx context.Context, id int64) error {
	query := `UPDATE messages SET is_deleted = true WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark message as deleted: %w", err)
	}
	return nil
}
