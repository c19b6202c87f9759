package models

import "time"

// Account connection states. Only listeners mutate these.
const (
	AccountStatusDisconnected = "disconnected"
	AccountStatusConnecting   = "connecting"
	AccountStatusConnected    = "connected"
	AccountStatusError        = "error"
)

// MailboxAccount represents a watched IMAP mailbox
type MailboxAccount struct {
	ID              int64      `db:"id"`
	UserID          int64      `db:"user_id"`
	Email           string     `db:"email"`
	Provider        string     `db:"provider"`    // display label, e.g. "gmail"
	IMAPHost        string     `db:"imap_host"`   // empty = resolve from address
	IMAPPort        int        `db:"imap_port"`
	SMTPHost        string     `db:"smtp_host"`
	SMTPPort        int        `db:"smtp_port"`
	Password        string     `db:"password"` // AES-256-GCM encrypted
	Status          string     `db:"status"`
	LastError       string     `db:"last_error"`
	LastSyncAt      *time.Time `db:"last_sync_at"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at"`
	IsActive        bool       `db:"is_active"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// IMAPAddr returns the configured host:port, or empty if unset
func (a *MailboxAccount) IMAPAddr() string {
	if a.IMAPHost == "" {
		return ""
	}
	port := a.IMAPPort
	if port == 0 {
		port = 993
	}
	return joinHostPort(a.IMAPHost, port)
}
