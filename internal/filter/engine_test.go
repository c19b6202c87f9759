package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mixelka/mailpush/pkg/models"
)

func TestMatchFirstByPriorityOrder(t *testing.T) {
	engine := NewEngine()
	msg := &models.Message{
		FromAddr: "billing@stripe.com",
		Subject:  "Your invoice is ready",
		BodyText: "Invoice #1234 attached",
	}

	// Rules arrive pre-ordered by priority desc
	rules := []*models.FilterRule{
		{ID: 2, Name: "high", Priority: 5, SubjectContains: models.StringList{"invoice"}},
		{ID: 1, Name: "low", Priority: 1, FromContains: models.StringList{"stripe.com"}},
	}

	matched := engine.Match(msg, rules)
	assert.NotNil(t, matched)
	assert.Equal(t, int64(2), matched.ID)
}

func TestMatchEmptyRuleIsCatchAll(t *testing.T) {
	engine := NewEngine()
	msg := &models.Message{
		FromAddr: "anyone@example.com",
		Subject:  "hello",
	}

	rules := []*models.FilterRule{
		{ID: 1, Name: "catch-all"},
	}

	matched := engine.Match(msg, rules)
	assert.NotNil(t, matched)
	assert.Equal(t, int64(1), matched.ID)
}

func TestMatchCaseInsensitive(t *testing.T) {
	engine := NewEngine()
	msg := &models.Message{
		FromAddr: "NoReply@GitHub.COM",
		Subject:  "[Repo] New Pull Request",
	}

	rules := []*models.FilterRule{
		{ID: 1, FromContains: models.StringList{"github.com"}, SubjectContains: models.StringList{"pull request"}},
	}

	assert.NotNil(t, engine.Match(msg, rules))
}

func TestMatchGroupsAreANDed(t *testing.T) {
	engine := NewEngine()
	msg := &models.Message{
		FromAddr: "billing@stripe.com",
		Subject:  "Welcome aboard",
	}

	// From matches, subject does not: the rule must not fire
	rules := []*models.FilterRule{
		{ID: 1, FromContains: models.StringList{"stripe.com"}, SubjectContains: models.StringList{"invoice"}},
	}

	assert.Nil(t, engine.Match(msg, rules))
}

func TestMatchEntriesAreORed(t *testing.T) {
	engine := NewEngine()
	msg := &models.Message{
		FromAddr: "alerts@grafana.example.com",
		Subject:  "CPU alert firing",
	}

	rules := []*models.FilterRule{
		{ID: 1, FromContains: models.StringList{"pagerduty.com", "grafana"}},
	}

	assert.NotNil(t, engine.Match(msg, rules))
}

func TestMatchKeywordsCoverSubjectAndBody(t *testing.T) {
	engine := NewEngine()
	rules := []*models.FilterRule{
		{ID: 1, Keywords: models.StringList{"验证码"}},
	}

	inSubject := &models.Message{Subject: "您的验证码", BodyText: "something else"}
	inBody := &models.Message{Subject: "notification", BodyText: "您的验证码是 482913"}
	inNeither := &models.Message{Subject: "newsletter", BodyText: "weekly digest"}

	assert.NotNil(t, engine.Match(inSubject, rules))
	assert.NotNil(t, engine.Match(inBody, rules))
	assert.Nil(t, engine.Match(inNeither, rules))
}

func TestMatchBlankEntriesIgnored(t *testing.T) {
	engine := NewEngine()
	msg := &models.Message{Subject: "anything"}

	// A group with only blank entries cannot match anything
	rules := []*models.FilterRule{
		{ID: 1, SubjectContains: models.StringList{"", "  "}},
	}

	assert.Nil(t, engine.Match(msg, rules))
}

func TestMatchNoRules(t *testing.T) {
	engine := NewEngine()
	assert.Nil(t, engine.Match(&models.Message{Subject: "x"}, nil))
}
