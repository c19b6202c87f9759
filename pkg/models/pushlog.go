package models

import "time"

// Push delivery outcomes
const (
	PushStatusSuccess = "success"
	PushStatusFailed  = "failed"
)

// PushLog is one row per delivery attempt. Append-only; also the data
// source for rate-limit window counting.
type PushLog struct {
	ID        int64     `db:"id"`
	MessageID int64     `db:"message_id"`
	ChannelID int64     `db:"channel_id"`
	Status    string    `db:"status"`
	ErrorMsg  string    `db:"error_msg"`
	CreatedAt time.Time `db:"created_at"`
}
