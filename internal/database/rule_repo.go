package database

import (
	"context"
	"fmt"

	"github.com/mixelka/mailpush/pkg/models"
)

// CreateRule creates a filter rule
func (db *DB) CreateRule(ctx context.Context, rule *models.FilterRule) error {
	query := `
		INSERT INTO filter_rules (user_id, account_id, name, from_contains, subject_contains, keywords, channel_ids, mark_as_read, delete_message, priority, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := nowUTC()
	result, err := db.ExecContext(ctx, query,
		rule.UserID,
		rule.AccountID,
		rule.Name,
		rule.FromContains,
		rule.SubjectContains,
		rule.Keywords,
		rule.ChannelIDs,
		rule.MarkAsRead,
		rule.DeleteMessage,
		rule.Priority,
		rule.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// GetRulesForAccount returns the user's active rules scoped to the
// account or global, ordered highest priority first with newest rules
// breaking ties.
func (db *DB) GetRulesForAccount(ctx context.Context, userID, accountID int64) ([]*models.FilterRule, error) {
	var rules []*models.FilterRule
	query := `
		SELECT * FROM filter_rules
		WHERE user_id = ? AND is_active = true AND (account_id IS NULL OR account_id = ?)
		ORDER BY priority DESC, created_at DESC, id DESC
	`
	err := db.SelectContext(ctx, &rules, query, userID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rules: %w", err)
	}
	return rules, nil
}

// IncrementRuleMatchCount bumps the running match counter of a rule
func (db *DB) IncrementRuleMatchCount(ctx context.Context, id int64) error {
	query := `UPDATE filter_rules SET match_count = match_count + 1, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("failed to increment match count: %w", err)
	}
	return nil
}
