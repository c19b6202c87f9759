package listener

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mixelka/mailpush/internal/database"
	"github.com/mixelka/mailpush/internal/email"
	"github.com/mixelka/mailpush/internal/filter"
	"github.com/mixelka/mailpush/internal/parser"
	"github.com/mixelka/mailpush/pkg/models"
)

// Dispatcher delivers one notification per (message, channel)
type Dispatcher interface {
	Dispatch(ctx context.Context, account *models.MailboxAccount, msg *models.Message, channelID int64) error
}

// EventPublisher pushes new-message events to the owning user's live
// connection, if one is open.
type EventPublisher interface {
	PublishNewMessage(userID int64, msg *models.Message)
}

// MailboxActions are the flag operations a rule may trigger on the
// live IMAP session that produced the message.
type MailboxActions interface {
	MarkSeen(uid uint32) error
	Delete(uid uint32) error
}

// Processor turns one fetched email into a persisted, filtered,
// pushed notification. Per-account supervisors call it sequentially,
// so processing for one account is strictly ordered.
type Processor struct {
	db         *database.DB
	engine     *filter.Engine
	dispatcher Dispatcher
	events     EventPublisher
	html       *parser.HTMLParser
	logger     *slog.Logger
}

// NewProcessor creates a processor
func NewProcessor(db *database.DB, dispatcher Dispatcher, events EventPublisher, logger *slog.Logger) *Processor {
	return &Processor{
		db:         db,
		engine:     filter.NewEngine(),
		dispatcher: dispatcher,
		events:     events,
		html:       parser.NewHTMLParser(),
		logger:     logger.With("component", "processor"),
	}
}

// Process persists the message idempotently and runs filter rules and
// push actions for it. Duplicate deliveries are silently skipped.
func (p *Processor) Process(ctx context.Context, account *models.MailboxAccount, raw *email.RawEmail, mailbox MailboxActions) error {
	msg := p.buildMessage(account, raw)

	if err := p.db.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			p.logger.Debug("message already exists, skipping", "message_id", raw.MessageID, "account_id", account.ID)
			return nil
		}
		return err
	}

	if err := p.db.UpdateAccountLastSync(ctx, account.ID, time.Now()); err != nil {
		p.logger.Error("failed to update last sync", "error", err, "account_id", account.ID)
	}

	if p.events != nil {
		p.events.PublishNewMessage(account.UserID, msg)
	}

	p.logger.Info("new message persisted",
		"account_id", account.ID,
		"from", msg.FromAddr,
		"subject", msg.Subject,
	)

	return p.applyRules(ctx, account, msg, raw.UID, mailbox)
}

// buildMessage maps a raw email onto a message row, preferring the
// plain-text part and falling back to HTML stripped to text.
func (p *Processor) buildMessage(account *models.MailboxAccount, raw *email.RawEmail) *models.Message {
	bodyText := raw.BodyText
	if bodyText == "" && raw.BodyHTML != "" {
		parsed, err := p.html.Parse(raw.BodyHTML)
		if err != nil {
			p.logger.Warn("failed to parse HTML body", "error", err)
		} else {
			bodyText = parsed
		}
	}

	attachments := "[]"
	if len(raw.Attachments) > 0 {
		if data, err := json.Marshal(raw.Attachments); err == nil {
			attachments = string(data)
		}
	}

	receivedAt := raw.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	fromAddr, fromName := "", ""
	if raw.From != nil {
		fromAddr, fromName = raw.From.Address, raw.From.Name
	}

	return &models.Message{
		AccountID:   account.ID,
		MessageID:   raw.MessageID,
		UID:         raw.UID,
		FromAddr:    fromAddr,
		FromName:    fromName,
		ToAddrs:     strings.Join(raw.To, ","),
		Subject:     raw.Subject,
		BodyText:    bodyText,
		BodyHTML:    raw.BodyHTML,
		RawHeaders:  raw.RawHeaders,
		Attachments: attachments,
		ReceivedAt:  receivedAt.UTC(),
	}
}

// applyRules evaluates the user's rules and executes the first match's
// actions. Deletion suppresses pushes.
func (p *Processor) applyRules(ctx context.Context, account *models.MailboxAccount, msg *models.Message, uid uint32, mailbox MailboxActions) error {
	rules, err := p.db.GetRulesForAccount(ctx, account.UserID, account.ID)
	if err != nil {
		return err
	}

	rule := p.engine.Match(msg, rules)
	if rule == nil {
		return nil
	}

	p.logger.Info("filter rule matched", "rule_id", rule.ID, "rule", rule.Name, "message_id", msg.ID)

	if err := p.db.IncrementRuleMatchCount(ctx, rule.ID); err != nil {
		p.logger.Error("failed to increment match count", "error", err, "rule_id", rule.ID)
	}

	if rule.DeleteMessage {
		if mailbox != nil {
			if err := mailbox.Delete(uid); err != nil {
				p.logger.Error("failed to delete message on server", "error", err, "uid", uid)
			}
		}
		if err := p.db.MarkMessageAsDeleted(ctx, msg.ID); err != nil {
			p.logger.Error("failed to mark message deleted", "error", err, "message_id", msg.ID)
		}
		// A deleted message is never pushed
		return nil
	}

	if rule.MarkAsRead {
		if mailbox != nil {
			if err := mailbox.MarkSeen(uid); err != nil {
				p.logger.Error("failed to mark seen on server", "error", err, "uid", uid)
			}
		}
		if err := p.db.MarkMessageAsRead(ctx, msg.ID); err != nil {
			p.logger.Error("failed to mark message read", "error", err, "message_id", msg.ID)
		}
		msg.IsRead = true
	}

	for _, channelID := range rule.ChannelIDs {
		if err := p.dispatcher.Dispatch(ctx, account, msg, channelID); err != nil {
			p.logger.Error("dispatch failed", "error", err, "channel_id", channelID, "message_id", msg.ID)
		}
	}

	return nil
}
