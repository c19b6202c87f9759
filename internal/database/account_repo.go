package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/mailpush/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// CreateAccount creates a new mailbox account
func (db *DB) CreateAccount(ctx context.Context, account *models.MailboxAccount) error {
	query := `
		INSERT INTO mailbox_accounts (user_id, email, provider, imap_host, imap_port, smtp_host, smtp_port, password, status, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	status := account.Status
	if status == "" {
		status = models.AccountStatusDisconnected
	}
	result, err := db.ExecContext(ctx, query,
		account.UserID,
		account.Email,
		account.Provider,
		account.IMAPHost,
		account.IMAPPort,
		account.SMTPHost,
		account.SMTPPort,
		account.Password,
		status,
		account.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.Status = status
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.MailboxAccount, error) {
	var account models.MailboxAccount
	query := `SELECT * FROM mailbox_accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetConnectedAccounts returns accounts that are active and were last
// known connected, used to bootstrap listeners on startup.
func (db *DB) GetConnectedAccounts(ctx context.Context) ([]*models.MailboxAccount, error) {
	var accounts []*models.MailboxAccount
	query := `SELECT * FROM mailbox_accounts WHERE is_active = true AND status = ?`
	err := db.SelectContext(ctx, &accounts, query, models.AccountStatusConnected)
	if err != nil {
		return nil, fmt.Errorf("failed to get connected accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountStatus updates the connection status and error text
func (db *DB) UpdateAccountStatus(ctx context.Context, id int64, status, lastError string) error {
	query := `UPDATE mailbox_accounts SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, status, lastError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}
	return nil
}

// UpdateAccountLastSync updates the last sync timestamp
func (db *DB) UpdateAccountLastSync(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE mailbox_accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

// UpdateAccountHeartbeat updates the heartbeat timestamp
func (db *DB) UpdateAccountHeartbeat(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE mailbox_accounts SET last_heartbeat_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}
	return nil
}

// SetAccountActive sets the active flag of an account
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE mailbox_accounts SET is_active = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}
