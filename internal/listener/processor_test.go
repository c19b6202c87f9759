package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailpush/internal/email"
	"github.com/mixelka/mailpush/pkg/models"
)

type dispatchCall struct {
	messageID int64
	channelID int64
}

type fakeDispatcher struct {
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *models.MailboxAccount, msg *models.Message, channelID int64) error {
	f.calls = append(f.calls, dispatchCall{messageID: msg.ID, channelID: channelID})
	return nil
}

type fakePublisher struct {
	published []int64
}

func (f *fakePublisher) PublishNewMessage(userID int64, _ *models.Message) {
	f.published = append(f.published, userID)
}

type fakeMailbox struct {
	seen    []uint32
	deleted []uint32
}

func (f *fakeMailbox) MarkSeen(uid uint32) error {
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeMailbox) Delete(uid uint32) error {
	f.deleted = append(f.deleted, uid)
	return nil
}

func rawEmail(uid uint32, messageID, subject, body string) *email.RawEmail {
	return &email.RawEmail{
		UID:       uid,
		MessageID: messageID,
		From:      &email.Address{Name: "Alice", Address: "alice@example.com"},
		To:        []string{"me@example.com"},
		Subject:   subject,
		Date:      time.Now(),
		BodyText:  body,
	}
}

func TestProcessPersistsAndPublishes(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	dispatcher := &fakeDispatcher{}
	publisher := &fakePublisher{}
	p := NewProcessor(db, dispatcher, publisher, testLogger())

	raw := rawEmail(100, "<m1@example.com>", "hello", "body text")
	require.NoError(t, p.Process(context.Background(), account, raw, &fakeMailbox{}))

	stored, err := db.FindMessageByMessageID(context.Background(), account.ID, "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Subject)
	assert.Equal(t, "alice@example.com", stored.FromAddr)
	assert.False(t, stored.IsRead)

	assert.Equal(t, []int64{account.UserID}, publisher.published)
	// No rules configured: nothing is pushed
	assert.Empty(t, dispatcher.calls)

	updated, err := db.GetAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.LastSyncAt)
}

func TestProcessDuplicateIsSkipped(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	dispatcher := &fakeDispatcher{}
	publisher := &fakePublisher{}
	p := NewProcessor(db, dispatcher, publisher, testLogger())

	raw := rawEmail(100, "<dup@example.com>", "hello", "body")
	require.NoError(t, p.Process(context.Background(), account, raw, &fakeMailbox{}))
	require.NoError(t, p.Process(context.Background(), account, raw, &fakeMailbox{}))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM messages WHERE account_id = ?`, account.ID))
	assert.Equal(t, 1, count)

	// The duplicate delivery publishes and dispatches nothing
	assert.Len(t, publisher.published, 1)
	assert.Empty(t, dispatcher.calls)
}

func TestProcessMarkAsReadRuleDispatches(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	dispatcher := &fakeDispatcher{}
	p := NewProcessor(db, dispatcher, &fakePublisher{}, testLogger())

	rule := &models.FilterRule{
		UserID:          account.UserID,
		Name:            "invoices",
		SubjectContains: models.StringList{"invoice"},
		ChannelIDs:      models.Int64List{11, 12},
		MarkAsRead:      true,
		Priority:        5,
		IsActive:        true,
	}
	require.NoError(t, db.CreateRule(context.Background(), rule))

	mailbox := &fakeMailbox{}
	raw := rawEmail(100, "<inv@example.com>", "Your invoice is ready", "pay up")
	require.NoError(t, p.Process(context.Background(), account, raw, mailbox))

	stored, err := db.FindMessageByMessageID(context.Background(), account.ID, "<inv@example.com>")
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
	assert.Equal(t, []uint32{100}, mailbox.seen)

	require.Len(t, dispatcher.calls, 2)
	assert.Equal(t, int64(11), dispatcher.calls[0].channelID)
	assert.Equal(t, int64(12), dispatcher.calls[1].channelID)

	rules, err := db.GetRulesForAccount(context.Background(), account.UserID, account.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1), rules[0].MatchCount)
}

func TestProcessMarkAsReadRuleWithoutChannels(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	dispatcher := &fakeDispatcher{}
	p := NewProcessor(db, dispatcher, &fakePublisher{}, testLogger())

	rule := &models.FilterRule{
		UserID:          account.UserID,
		Name:            "quiet archive",
		SubjectContains: models.StringList{"invoice"},
		MarkAsRead:      true,
		IsActive:        true,
	}
	require.NoError(t, db.CreateRule(context.Background(), rule))

	raw := rawEmail(150, "<inv2@example.com>", "Your invoice #42", "")
	require.NoError(t, p.Process(context.Background(), account, raw, &fakeMailbox{}))

	stored, err := db.FindMessageByMessageID(context.Background(), account.ID, "<inv2@example.com>")
	require.NoError(t, err)
	assert.True(t, stored.IsRead)
	assert.Empty(t, dispatcher.calls)

	rules, err := db.GetRulesForAccount(context.Background(), account.UserID, account.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1), rules[0].MatchCount)
}

func TestProcessDeleteRuleSuppressesPush(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	dispatcher := &fakeDispatcher{}
	p := NewProcessor(db, dispatcher, &fakePublisher{}, testLogger())

	rule := &models.FilterRule{
		UserID:        account.UserID,
		Name:          "spam",
		FromContains:  models.StringList{"spammer.example"},
		ChannelIDs:    models.Int64List{11},
		DeleteMessage: true,
		IsActive:      true,
	}
	require.NoError(t, db.CreateRule(context.Background(), rule))

	mailbox := &fakeMailbox{}
	raw := rawEmail(200, "<spam@example.com>", "free money", "click here")
	raw.From = &email.Address{Address: "noreply@spammer.example"}
	require.NoError(t, p.Process(context.Background(), account, raw, mailbox))

	stored, err := db.FindMessageByMessageID(context.Background(), account.ID, "<spam@example.com>")
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)
	assert.Equal(t, []uint32{200}, mailbox.deleted)
	assert.Empty(t, dispatcher.calls)
}

func TestProcessHigherPriorityRuleWins(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	dispatcher := &fakeDispatcher{}
	p := NewProcessor(db, dispatcher, &fakePublisher{}, testLogger())

	low := &models.FilterRule{
		UserID: account.UserID, Name: "low",
		ChannelIDs: models.Int64List{11},
		Priority:   1, IsActive: true,
	}
	high := &models.FilterRule{
		UserID: account.UserID, Name: "high",
		SubjectContains: models.StringList{"alert"},
		ChannelIDs:      models.Int64List{22},
		Priority:        9, IsActive: true,
	}
	require.NoError(t, db.CreateRule(context.Background(), low))
	require.NoError(t, db.CreateRule(context.Background(), high))

	raw := rawEmail(300, "<alert@example.com>", "CPU alert firing", "")
	require.NoError(t, p.Process(context.Background(), account, raw, &fakeMailbox{}))

	// Only the first match fires
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, int64(22), dispatcher.calls[0].channelID)
}

func TestProcessHTMLBodyFallsBackToParsedText(t *testing.T) {
	db := newTestDB(t)
	account := newTestAccount(t, db, newTestVault(t))
	p := NewProcessor(db, &fakeDispatcher{}, &fakePublisher{}, testLogger())

	raw := rawEmail(400, "<html@example.com>", "styled", "")
	raw.BodyHTML = `<html><head><style>p{color:red}</style></head><body><p>visible text</p></body></html>`
	require.NoError(t, p.Process(context.Background(), account, raw, &fakeMailbox{}))

	stored, err := db.FindMessageByMessageID(context.Background(), account.ID, "<html@example.com>")
	require.NoError(t, err)
	assert.Contains(t, stored.BodyText, "visible text")
	assert.NotContains(t, stored.BodyText, "color:red")
}
