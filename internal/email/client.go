package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailpush/pkg/models"
)

// RawEmail represents a fetched email before persistence
type RawEmail struct {
	UID         uint32
	MessageID   string
	From        *Address
	To          []string
	Subject     string
	Date        time.Time
	BodyText    string
	BodyHTML    string
	RawHeaders  string
	Attachments []models.AttachmentMeta
}

// Address represents an email address
type Address struct {
	Name    string
	Address string
}

// ClientConfig configuration for an IMAP client
type ClientConfig struct {
	Email       string
	Password    string
	Addr        string // host:port
	DialTimeout time.Duration
}

// Client is an IMAP session for a single mailbox account
type Client struct {
	config    ClientConfig
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("email", cfg.Email),
	}
}

// Connect dials the server with TLS and authenticates
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", c.config.Addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}
	imapClient.Timeout = timeout

	if err := imapClient.Login(c.config.Email, c.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	c.client = imapClient
	c.connected = true
	c.logger.Info("connected to IMAP server", "server", c.config.Addr)

	return nil
}

// SelectInbox selects INBOX read-write so flag updates are allowed
func (c *Client) SelectInbox() (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	mbox, err := c.client.Select("INBOX", false)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return mbox, nil
}

// SearchUnseen returns the UIDs of unseen messages in the selected mailbox
func (c *Client) SearchUnseen() ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen: %w", err)
	}

	return uids, nil
}

// FetchByUID fetches and parses the given messages. A message that
// fails to parse is logged and skipped; the rest of the batch is still
// returned.
func (c *Client) FetchByUID(uids []uint32) ([]*RawEmail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// Peek so fetching does not set \Seen; the read flag is ours to manage
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 32)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var emails []*RawEmail
	for msg := range messages {
		email, err := c.parseMessage(msg, section)
		if err != nil {
			c.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return emails, fmt.Errorf("failed to fetch: %w", err)
	}

	return emails, nil
}

// parseMessage parses an IMAP message into a RawEmail
func (c *Client) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*RawEmail, error) {
	email := &RawEmail{
		UID: msg.Uid,
	}

	if msg.Envelope != nil {
		email.Subject = msg.Envelope.Subject
		email.Date = msg.Envelope.Date
		email.MessageID = msg.Envelope.MessageId

		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			email.From = &Address{
				Name:    from.PersonalName,
				Address: from.Address(),
			}
		}
		for _, to := range msg.Envelope.To {
			email.To = append(email.To, to.Address())
		}
	}

	bodyReader := msg.GetBody(section)
	if bodyReader != nil {
		raw, err := io.ReadAll(bodyReader)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		email.RawHeaders = splitRawHeaders(raw)
		c.parseParts(email, raw)
	}

	if email.MessageID == "" {
		// Some providers omit Message-ID; synthesize a stable fallback
		// so the dedup key is never empty.
		email.MessageID = fmt.Sprintf("<uid-%d@%s>", msg.Uid, c.config.Email)
	}
	if email.From == nil {
		email.From = &Address{}
	}

	return email, nil
}

// parseParts walks the MIME tree collecting bodies and attachment metadata
func (c *Client) parseParts(email *RawEmail, raw []byte) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		c.logger.Warn("failed to create mail reader", "error", err)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read part", "error", err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(ct, "text/html") {
				email.BodyHTML = string(body)
			} else if strings.HasPrefix(ct, "text/plain") {
				email.BodyText = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			email.Attachments = append(email.Attachments, models.AttachmentMeta{
				Filename:    decodeFilename(filename),
				ContentType: ct,
				Size:        int(size),
			})
		}
	}
}

// MarkSeen adds the \Seen flag to a message
func (c *Client) MarkSeen(uid uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as seen: %w", err)
	}

	return nil
}

// Delete flags a message \Deleted and expunges it
func (c *Client) Delete(uid uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return fmt.Errorf("not connected")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as deleted: %w", err)
	}

	if err := c.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	return nil
}

// Noop sends a NOOP keepalive so the server reports new mail before
// the next unseen search.
func (c *Client) Noop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return fmt.Errorf("not connected")
	}

	if err := c.client.Noop(); err != nil {
		return fmt.Errorf("noop failed: %w", err)
	}
	return nil
}

// Close ends the session. Logout is attempted briefly, then the
// connection is torn down so Close never blocks a stop.
func (c *Client) Close() {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if imapClient == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		imapClient.Logout()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		imapClient.Terminate()
	}
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// splitRawHeaders returns the header block of a raw RFC 5322 message
func splitRawHeaders(raw []byte) string {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return string(raw[:idx])
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return string(raw[:idx])
	}
	return ""
}

// decodeFilename decodes RFC 2047 encoded attachment names
func decodeFilename(name string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(name)
	if err != nil {
		return name
	}
	return decoded
}
