package models

import "time"

// FilterRule matches incoming messages and selects actions. AccountID
// null means the rule applies to all of the user's accounts. Condition
// groups are AND'd; entries inside a group are OR'd; an empty group is
// a wildcard.
type FilterRule struct {
	ID              int64      `db:"id"`
	UserID          int64      `db:"user_id"`
	AccountID       *int64     `db:"account_id"`
	Name            string     `db:"name"`
	FromContains    StringList `db:"from_contains"`
	SubjectContains StringList `db:"subject_contains"`
	Keywords        StringList `db:"keywords"` // matched against subject+body
	ChannelIDs      Int64List  `db:"channel_ids"`
	MarkAsRead      bool       `db:"mark_as_read"`
	DeleteMessage   bool       `db:"delete_message"`
	Priority        int        `db:"priority"`
	IsActive        bool       `db:"is_active"`
	MatchCount      int64      `db:"match_count"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}
