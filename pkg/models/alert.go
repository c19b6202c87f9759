package models

import "time"

// Alert severity levels
const (
	AlertInfo    = "info"
	AlertWarning = "warning"
	AlertError   = "error"
	AlertFatal   = "fatal"
)

// SystemAlert is an operational event surfaced to the user. Created by
// listeners and the dispatcher, never by interactive surfaces.
type SystemAlert struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Level     string    `db:"level"`
	Source    string    `db:"source"` // e.g. "listener", "push"
	Message   string    `db:"message"`
	IsRead    bool      `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}
