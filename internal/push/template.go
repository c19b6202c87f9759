package push

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mixelka/mailpush/pkg/models"
)

// Built-in templates, used when no user template resolves for a
// channel. The Feishu default is built as a struct and marshalled, so
// it can never produce an invalid card.
const (
	builtinWeChatTemplate = "**📧 新邮件提醒**\n" +
		"> **发件人:** {from}\n" +
		"> **主题:** {subject}\n" +
		"> **时间:** {time}\n\n" +
		"{preview}"

	builtinTelegramTemplate = "<b>📧 新邮件提醒</b>\n" +
		"<b>发件人:</b> {from}\n" +
		"<b>主题:</b> {subject}\n" +
		"<b>时间:</b> {time}\n\n" +
		"{preview}"
)

// Renderer fills notification templates with message fields
type Renderer struct {
	previewMaxRunes int
}

// NewRenderer creates a renderer. previewMaxRunes bounds the {preview}
// token; zero falls back to 200.
func NewRenderer(previewMaxRunes int) *Renderer {
	if previewMaxRunes <= 0 {
		previewMaxRunes = 200
	}
	return &Renderer{previewMaxRunes: previewMaxRunes}
}

// Render substitutes {from} {subject} {time} {preview} {body} tokens
func (r *Renderer) Render(template string, msg *models.Message) string {
	from := msg.FromAddr
	if msg.FromName != "" {
		from = msg.FromName + " <" + msg.FromAddr + ">"
	}

	replacer := strings.NewReplacer(
		"{from}", from,
		"{subject}", msg.Subject,
		"{time}", formatTime(msg.ReceivedAt),
		"{preview}", r.Preview(msg.BodyText),
		"{body}", msg.BodyText,
	)
	return replacer.Replace(template)
}

// Preview returns the first previewMaxRunes runes of the body
func (r *Renderer) Preview(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= r.previewMaxRunes {
		return body
	}
	return string(runes[:r.previewMaxRunes]) + "..."
}

// BuiltinTemplate returns the hard-coded default for a channel kind.
// Unknown kinds get the WeChat markdown layout; the dispatcher rejects
// unknown kinds before rendering anyway.
func BuiltinTemplate(kind string) string {
	switch kind {
	case models.ChannelTelegram:
		return builtinTelegramTemplate
	case models.ChannelFeishu:
		return "" // built structurally, see BuiltinFeishuCard
	default:
		return builtinWeChatTemplate
	}
}

// feishuCard mirrors the interactive-card JSON the Feishu webhook expects
type feishuCard struct {
	Config   feishuCardConfig `json:"config"`
	Header   feishuCardHeader `json:"header"`
	Elements []feishuElement  `json:"elements"`
}

type feishuCardConfig struct {
	WideScreenMode bool `json:"wide_screen_mode"`
}

type feishuCardHeader struct {
	Title    feishuText `json:"title"`
	Template string     `json:"template"`
}

type feishuElement struct {
	Tag  string     `json:"tag"`
	Text feishuText `json:"text"`
}

type feishuText struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
}

// BuiltinFeishuCard builds the default structured card for a message
func (r *Renderer) BuiltinFeishuCard(msg *models.Message) json.RawMessage {
	from := msg.FromAddr
	if msg.FromName != "" {
		from = msg.FromName + " <" + msg.FromAddr + ">"
	}
	card := feishuCard{
		Config: feishuCardConfig{WideScreenMode: true},
		Header: feishuCardHeader{
			Title:    feishuText{Tag: "plain_text", Content: "📧 新邮件提醒"},
			Template: "blue",
		},
		Elements: []feishuElement{
			{
				Tag: "div",
				Text: feishuText{
					Tag: "lark_md",
					Content: "**发件人:** " + from + "\n" +
						"**主题:** " + msg.Subject + "\n" +
						"**时间:** " + formatTime(msg.ReceivedAt) + "\n\n" +
						r.Preview(msg.BodyText),
				},
			},
		},
	}
	data, err := json.Marshal(card)
	if err != nil {
		// Marshalling a plain struct cannot fail; keep the signature honest
		return json.RawMessage(`{"config":{"wide_screen_mode":true},"elements":[]}`)
	}
	return data
}

// ParseFeishuCard validates that rendered template output is a JSON
// object usable as a card. Invalid output makes the dispatcher fall
// back to the built-in card rather than send malformed content.
func ParseFeishuCard(rendered string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(rendered)
	var card map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &card); err != nil {
		return nil, false
	}
	if len(card) == 0 {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
