package models

import "time"

// Push channel kinds
const (
	ChannelWeChat   = "wechat"
	ChannelFeishu   = "feishu"
	ChannelTelegram = "telegram"
)

// PushChannel is a delivery target for notifications
type PushChannel struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	AccountID  *int64    `db:"account_id"` // null = any of the user's accounts
	Name       string    `db:"name"`
	Kind       string    `db:"kind"`
	WebhookURL string    `db:"webhook_url"` // wechat/feishu
	BotToken   string    `db:"bot_token"`   // telegram
	ChatID     string    `db:"chat_id"`     // telegram
	TemplateID *int64    `db:"template_id"`
	Template   string    `db:"template"` // legacy inline template
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// PushTemplate is a reusable notification template. AccountID null
// means global scope; at most one default per (user, kind, scope).
type PushTemplate struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	AccountID *int64    `db:"account_id"`
	Kind      string    `db:"kind"`
	Name      string    `db:"name"`
	Content   string    `db:"content"`
	IsDefault bool      `db:"is_default"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
