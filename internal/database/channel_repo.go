package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailpush/pkg/models"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// CreateChannel creates a push channel
func (db *DB) CreateChannel(ctx context.Context, ch *models.PushChannel) error {
	query := `
		INSERT INTO push_channels (user_id, account_id, name, kind, webhook_url, bot_token, chat_id, template_id, template, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		ch.UserID,
		ch.AccountID,
		ch.Name,
		ch.Kind,
		ch.WebhookURL,
		ch.BotToken,
		ch.ChatID,
		ch.TemplateID,
		ch.Template,
		ch.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	ch.ID = id
	ch.CreatedAt = now
	ch.UpdatedAt = now
	return nil
}

// GetChannelForUser returns a channel by id scoped to the user and,
// when the channel itself is account-scoped, to the given account.
func (db *DB) GetChannelForUser(ctx context.Context, id, userID, accountID int64) (*models.PushChannel, error) {
	var ch models.PushChannel
	query := `
		SELECT * FROM push_channels
		WHERE id = ? AND user_id = ? AND (account_id IS NULL OR account_id = ?)
	`
	err := db.GetContext(ctx, &ch, query, id, userID, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

// CreateTemplate creates a push template
func (db *DB) CreateTemplate(ctx context.Context, tpl *models.PushTemplate) error {
	query := `
		INSERT INTO push_templates (user_id, account_id, kind, name, content, is_default, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		tpl.UserID,
		tpl.AccountID,
		tpl.Kind,
		tpl.Name,
		tpl.Content,
		tpl.IsDefault,
		tpl.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	tpl.ID = id
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	return nil
}

// GetTemplateByID returns an active template by id scoped to the user
func (db *DB) GetTemplateByID(ctx context.Context, id, userID int64) (*models.PushTemplate, error) {
	var tpl models.PushTemplate
	query := `SELECT * FROM push_templates WHERE id = ? AND user_id = ? AND is_active = true`
	err := db.GetContext(ctx, &tpl, query, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

// GetDefaultTemplate returns the default template for (user, kind)
// scoped to the given account, or ErrNotFound.
func (db *DB) GetDefaultTemplate(ctx context.Context, userID int64, kind string, accountID *int64) (*models.PushTemplate, error) {
	var tpl models.PushTemplate
	var err error
	if accountID != nil {
		query := `
			SELECT * FROM push_templates
			WHERE user_id = ? AND kind = ? AND account_id = ? AND is_default = true AND is_active = true
		`
		err = db.GetContext(ctx, &tpl, query, userID, kind, *accountID)
	} else {
		query := `
			SELECT * FROM push_templates
			WHERE user_id = ? AND kind = ? AND account_id IS NULL AND is_default = true AND is_active = true
		`
		err = db.GetContext(ctx, &tpl, query, userID, kind)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default template: %w", err)
	}
	return &tpl, nil
}
