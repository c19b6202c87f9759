package filter

import (
	"strings"

	"github.com/mixelka/mailpush/pkg/models"
)

// Engine selects the first matching rule for a message. Rules are
// expected pre-ordered by priority desc, creation time desc (the rule
// store guarantees this); only the first match fires.
type Engine struct{}

// NewEngine creates a filter engine
func NewEngine() *Engine {
	return &Engine{}
}

// Match returns the first rule matching the message, or nil
func (e *Engine) Match(msg *models.Message, rules []*models.FilterRule) *models.FilterRule {
	for _, rule := range rules {
		if e.matches(msg, rule) {
			return rule
		}
	}
	return nil
}

// matches reports whether every non-empty condition group passes. A
// rule with all groups empty matches every message, giving users a
// catch-all without special syntax.
func (e *Engine) matches(msg *models.Message, rule *models.FilterRule) bool {
	if len(rule.FromContains) > 0 && !containsAny(msg.FromAddr, rule.FromContains) {
		return false
	}
	if len(rule.SubjectContains) > 0 && !containsAny(msg.Subject, rule.SubjectContains) {
		return false
	}
	if len(rule.Keywords) > 0 && !containsAny(msg.Subject+"\n"+msg.BodyText, rule.Keywords) {
		return false
	}
	return true
}

// containsAny reports whether haystack contains any entry,
// case-insensitively. Entries within a group are OR'd.
func containsAny(haystack string, entries []string) bool {
	lowered := strings.ToLower(haystack)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}
