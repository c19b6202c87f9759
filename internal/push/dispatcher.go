package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/mixelka/mailpush/internal/database"
	"github.com/mixelka/mailpush/pkg/models"
)

// Store is the slice of the database the dispatcher needs
type Store interface {
	GetChannelForUser(ctx context.Context, id, userID, accountID int64) (*models.PushChannel, error)
	GetTemplateByID(ctx context.Context, id, userID int64) (*models.PushTemplate, error)
	GetDefaultTemplate(ctx context.Context, userID int64, kind string, accountID *int64) (*models.PushTemplate, error)
	CreatePushLog(ctx context.Context, entry *models.PushLog) error
	CreateAlert(ctx context.Context, alert *models.SystemAlert) error
}

// Dispatcher renders and delivers one notification per
// (message, channel) pair, records the outcome, and raises alerts for
// failures and rate-limit skips.
type Dispatcher struct {
	store      Store
	limiter    *RateLimiter
	renderer   *Renderer
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex
	bots map[string]*bot.Bot // telegram clients keyed by bot token
}

// NewDispatcher creates a dispatcher. pushTimeout bounds every
// outbound HTTP call so a slow chat API cannot stall a listener.
func NewDispatcher(store Store, limiter *RateLimiter, renderer *Renderer, pushTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	return &Dispatcher{
		store:      store,
		limiter:    limiter,
		renderer:   renderer,
		httpClient: &http.Client{Timeout: pushTimeout},
		logger:     logger.With("component", "push_dispatcher"),
		bots:       make(map[string]*bot.Bot),
	}
}

// Dispatch delivers a notification for msg to the given channel id.
// Missing or inactive channels are skipped silently; delivery outcomes
// are recorded in push_logs. The returned error covers only store
// failures that prevented an attempt from being made.
func (d *Dispatcher) Dispatch(ctx context.Context, account *models.MailboxAccount, msg *models.Message, channelID int64) error {
	channel, err := d.store.GetChannelForUser(ctx, channelID, account.UserID, account.ID)
	if errors.Is(err, database.ErrNotFound) {
		d.logger.Warn("push channel not found", "channel_id", channelID, "user_id", account.UserID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load channel: %w", err)
	}
	if !channel.IsActive {
		d.logger.Debug("push channel inactive, skipping", "channel_id", channelID)
		return nil
	}

	allowed, err := d.limiter.Allow(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		// Deliberate skip: no push_logs row, one alert
		d.alert(ctx, account.UserID, models.AlertWarning,
			fmt.Sprintf("渠道 %s 触发推送频率限制（每分钟最多 %d 条），本条通知已跳过", channel.Name, d.limiter.Limit()))
		d.logger.Warn("rate limit exceeded, skipping push", "channel_id", channel.ID)
		return nil
	}

	deliverErr := d.deliver(ctx, account, channel, msg)

	entry := &models.PushLog{
		MessageID: msg.ID,
		ChannelID: channel.ID,
		Status:    models.PushStatusSuccess,
	}
	if deliverErr != nil {
		entry.Status = models.PushStatusFailed
		entry.ErrorMsg = deliverErr.Error()
	}
	if err := d.store.CreatePushLog(ctx, entry); err != nil {
		d.logger.Error("failed to record push log", "error", err, "channel_id", channel.ID)
	}

	if deliverErr != nil {
		d.alert(ctx, account.UserID, models.AlertError,
			fmt.Sprintf("推送到渠道 %s 失败: %v", channel.Name, deliverErr))
		d.logger.Error("push delivery failed", "channel_id", channel.ID, "kind", channel.Kind, "error", deliverErr)
		return nil
	}

	d.logger.Info("push delivered", "channel_id", channel.ID, "kind", channel.Kind, "message_id", msg.ID)
	return nil
}

// deliver renders and sends via the channel's transport
func (d *Dispatcher) deliver(ctx context.Context, account *models.MailboxAccount, channel *models.PushChannel, msg *models.Message) error {
	switch channel.Kind {
	case models.ChannelWeChat:
		text := d.renderer.Render(d.resolveTemplate(ctx, account, channel), msg)
		return d.postWebhook(ctx, channel.WebhookURL, map[string]interface{}{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": text},
		})
	case models.ChannelFeishu:
		card := d.resolveFeishuCard(ctx, account, channel, msg)
		return d.postWebhook(ctx, channel.WebhookURL, map[string]interface{}{
			"msg_type": "interactive",
			"card":     card,
		})
	case models.ChannelTelegram:
		text := d.renderer.Render(d.resolveTemplate(ctx, account, channel), msg)
		return d.sendTelegram(ctx, channel, text)
	default:
		return fmt.Errorf("unknown channel kind %q", channel.Kind)
	}
}

// resolveTemplate walks the template priority chain: bound template,
// legacy inline template, scoped default, global default, built-in.
func (d *Dispatcher) resolveTemplate(ctx context.Context, account *models.MailboxAccount, channel *models.PushChannel) string {
	if channel.TemplateID != nil {
		tpl, err := d.store.GetTemplateByID(ctx, *channel.TemplateID, channel.UserID)
		if err == nil && tpl.Content != "" {
			return tpl.Content
		}
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			d.logger.Warn("failed to load bound template", "template_id", *channel.TemplateID, "error", err)
		}
	}

	if channel.Template != "" {
		return channel.Template
	}

	if tpl, err := d.store.GetDefaultTemplate(ctx, channel.UserID, channel.Kind, &account.ID); err == nil && tpl.Content != "" {
		return tpl.Content
	}
	if tpl, err := d.store.GetDefaultTemplate(ctx, channel.UserID, channel.Kind, nil); err == nil && tpl.Content != "" {
		return tpl.Content
	}

	return BuiltinTemplate(channel.Kind)
}

// resolveFeishuCard renders the resolved template and validates it as
// a card; anything invalid falls back to the built-in structured card.
func (d *Dispatcher) resolveFeishuCard(ctx context.Context, account *models.MailboxAccount, channel *models.PushChannel, msg *models.Message) json.RawMessage {
	template := d.resolveTemplate(ctx, account, channel)
	if template != "" {
		rendered := d.renderer.Render(template, msg)
		if card, ok := ParseFeishuCard(rendered); ok {
			return card
		}
		d.logger.Warn("feishu template rendered invalid JSON, using builtin card", "channel_id", channel.ID)
	}
	return d.renderer.BuiltinFeishuCard(msg)
}

// postWebhook POSTs a JSON payload; any non-2xx response is a failure
func (d *Dispatcher) postWebhook(ctx context.Context, url string, payload interface{}) error {
	if url == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// sendTelegram delivers via the Bot API sendMessage endpoint
func (d *Dispatcher) sendTelegram(ctx context.Context, channel *models.PushChannel, text string) error {
	if channel.BotToken == "" || channel.ChatID == "" {
		return fmt.Errorf("telegram channel missing bot token or chat id")
	}

	b, err := d.telegramBot(channel.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create telegram client: %w", err)
	}

	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    channel.ChatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("sendMessage failed: %w", err)
	}
	return nil
}

// telegramBot returns a cached client for the token
func (d *Dispatcher) telegramBot(token string) (*bot.Bot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.bots[token]; ok {
		return b, nil
	}

	b, err := bot.New(token,
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(d.httpClient.Timeout, d.httpClient),
	)
	if err != nil {
		return nil, err
	}
	d.bots[token] = b
	return b, nil
}

// alert appends a user-visible alert; failures here are logged only
// and never abort the pipeline.
func (d *Dispatcher) alert(ctx context.Context, userID int64, level, message string) {
	err := d.store.CreateAlert(ctx, &models.SystemAlert{
		UserID:  userID,
		Level:   level,
		Source:  "push",
		Message: message,
	})
	if err != nil {
		d.logger.Error("failed to create alert", "error", err)
	}
}
