package models

import "time"

// Message represents a persisted email message. Rows are immutable once
// created except for the read flag; the unique (account_id, message_id)
// index is the de-duplication key.
type Message struct {
	ID          int64     `db:"id"`
	AccountID   int64     `db:"account_id"`
	MessageID   string    `db:"message_id"` // Message-ID header
	UID         uint32    `db:"uid"`        // IMAP UID
	FromAddr    string    `db:"from_addr"`
	FromName    string    `db:"from_name"`
	ToAddrs     string    `db:"to_addrs"` // comma-separated recipient list
	Subject     string    `db:"subject"`
	BodyText    string    `db:"body_text"`
	BodyHTML    string    `db:"body_html"`
	RawHeaders  string    `db:"raw_headers"`
	Attachments string    `db:"attachments"` // JSON array of attachment metadata
	ReceivedAt  time.Time `db:"received_at"`
	IsRead      bool      `db:"is_read"`
	IsDeleted   bool      `db:"is_deleted"`
	CreatedAt   time.Time `db:"created_at"`
}

// AttachmentMeta describes one attachment without its content
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}
