package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailpush/internal/config"
	"github.com/mixelka/mailpush/internal/crypto"
	"github.com/mixelka/mailpush/internal/database"
	"github.com/mixelka/mailpush/internal/email"
	"github.com/mixelka/mailpush/pkg/models"
)

// State of a supervisor's connection state machine
type State string

// Supervisor states. Stopped is terminal and only entered by a manual
// stop; Error is terminal after reconnect exhaustion.
const (
	StateStopped      State = "stopped"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// errFatal marks failures that must not be retried (bad credentials
// that cannot be decrypted, unresolvable configuration).
var errFatal = errors.New("fatal listener error")

// Session is the slice of the IMAP client a supervisor drives
type Session interface {
	Connect() error
	SelectInbox() error
	SearchUnseen() ([]uint32, error)
	FetchByUID(uids []uint32) ([]*email.RawEmail, error)
	MarkSeen(uid uint32) error
	Delete(uid uint32) error
	Noop() error
	Close()
}

// SessionFactory builds a session for an account with its decrypted
// password. Injected so supervisor tests run without a mail server.
type SessionFactory func(account *models.MailboxAccount, password, addr string) Session

// imapSession adapts email.Client to the Session interface
type imapSession struct {
	*email.Client
}

func (s imapSession) SelectInbox() error {
	_, err := s.Client.SelectInbox()
	return err
}

// Supervisor owns one IMAP session for one account and turns
// new-message events into persisted, filtered, pushed notifications.
// It is a single goroutine per account; all per-account processing is
// strictly ordered.
type Supervisor struct {
	account    *models.MailboxAccount
	cfg        *config.Config
	db         *database.DB
	vault      *crypto.Vault
	processor  *Processor
	logger     *slog.Logger
	newSession SessionFactory

	mu       sync.Mutex
	state    State
	attempts int
	session  Session
	stopped  bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a supervisor for one account
func NewSupervisor(account *models.MailboxAccount, cfg *config.Config, db *database.DB, vault *crypto.Vault, processor *Processor, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		account:   account,
		cfg:       cfg,
		db:        db,
		vault:     vault,
		processor: processor,
		logger: logger.With(
			"component", "listener",
			"account_id", account.ID,
			"email", account.Email,
		),
		state:  StateStopped,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.newSession = func(account *models.MailboxAccount, password, addr string) Session {
		return imapSession{email.NewClient(email.ClientConfig{
			Email:       account.Email,
			Password:    password,
			Addr:        addr,
			DialTimeout: cfg.IMAPDialTimeout,
		}, logger)}
	}
	return s
}

// Start launches the connection loop
func (s *Supervisor) Start() {
	go s.run()
}

// Stop performs a manual stop: the stop flag is set first so in-flight
// error handling cannot schedule another reconnect, any pending
// backoff timer is released, and the live session is closed. Blocks
// until the run loop has exited.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	session := s.session
	close(s.stopCh)
	s.mu.Unlock()

	if session != nil {
		session.Close()
	}
	<-s.done

	s.updateStatus(models.AccountStatusDisconnected, "")
	s.logger.Info("listener stopped")
}

// State returns the current connection state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the current reconnect attempt counter
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// run is the connection state machine
func (s *Supervisor) run() {
	defer close(s.done)

	for {
		if s.isStopped() {
			s.setState(StateStopped)
			return
		}

		s.setState(StateConnecting)
		s.updateStatus(models.AccountStatusConnecting, "")

		session, err := s.connect()
		if err != nil {
			if errors.Is(err, errFatal) {
				s.failTerminal(err)
				return
			}
			s.recordFailure(err)
			if !s.waitBackoff() {
				return
			}
			continue
		}

		s.setSession(session)
		s.resetAttempts()
		s.setState(StateConnected)
		s.updateStatus(models.AccountStatusConnected, "")
		s.logger.Info("listening for new mail")

		err = s.listen(session)
		session.Close()
		s.setSession(nil)

		if s.isStopped() {
			s.setState(StateStopped)
			return
		}

		s.recordFailure(err)
		if !s.waitBackoff() {
			return
		}
	}
}

// connect decrypts the credential, resolves the server and opens the
// session with the inbox selected.
func (s *Supervisor) connect() (Session, error) {
	password, err := s.vault.Decrypt(s.account.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt credential: %v", errFatal, err)
	}

	addr := s.account.IMAPAddr()
	if addr == "" {
		resolved, err := email.ResolveIMAPServer(s.account.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to resolve IMAP server: %v", errFatal, err)
		}
		addr = resolved
	}

	session := s.newSession(s.account, password, addr)
	if err := session.Connect(); err != nil {
		return nil, err
	}
	if err := session.SelectInbox(); err != nil {
		session.Close()
		return nil, err
	}

	return session, nil
}

// listen fetches unseen mail immediately and then on every poll tick
// until the session fails or a stop arrives.
func (s *Supervisor) listen(session Session) error {
	if err := s.fetchUnseen(session); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			if err := session.Noop(); err != nil {
				return err
			}
			if err := s.fetchUnseen(session); err != nil {
				return err
			}
			s.heartbeat()
		}
	}
}

// fetchUnseen searches, fetches and processes new messages. Parse
// failures for single messages were already skipped by the client;
// per-message processing errors skip that message only.
func (s *Supervisor) fetchUnseen(session Session) error {
	uids, err := session.SearchUnseen()
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	emails, err := session.FetchByUID(uids)
	if err != nil && len(emails) == 0 {
		return err
	}
	if err != nil {
		s.logger.Warn("partial fetch", "error", err, "fetched", len(emails))
	}

	for _, raw := range emails {
		if s.isStopped() {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
		if err := s.processor.Process(ctx, s.account, raw, session); err != nil {
			s.logger.Error("failed to process message", "error", err, "uid", raw.UID)
		}
		cancel()
	}

	return nil
}

// waitBackoff sleeps out the exponential backoff delay. Returns false
// when the listener must not reconnect: attempts exhausted (terminal,
// fatal alert) or a stop arrived mid-backoff.
func (s *Supervisor) waitBackoff() bool {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if attempt > s.cfg.ReconnectMaxAttempts {
		s.failTerminal(fmt.Errorf("reconnect attempts exhausted after %d tries", s.cfg.ReconnectMaxAttempts))
		return false
	}

	delay := BackoffDelay(attempt, s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay)
	s.setState(StateReconnecting)
	s.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		s.setState(StateStopped)
		return false
	}
}

// BackoffDelay computes the reconnect delay for a 1-based attempt:
// base*2^(attempt-1) capped at max.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// recordFailure records a connection-level fault on the account
func (s *Supervisor) recordFailure(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.logger.Warn("connection failure", "error", err)
	s.updateStatus(models.AccountStatusError, msg)
}

// failTerminal marks the account failed for good and raises a fatal
// alert; a manual restart is required from here.
func (s *Supervisor) failTerminal(err error) {
	s.setState(StateError)
	s.updateStatus(models.AccountStatusError, err.Error())
	s.alert(models.AlertFatal, fmt.Sprintf("邮箱 %s 监听已停止: %v", s.account.Email, err))
	s.logger.Error("listener terminally failed", "error", err)
}

func (s *Supervisor) updateStatus(status, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.UpdateAccountStatus(ctx, s.account.ID, status, lastError); err != nil {
		s.logger.Error("failed to update account status", "error", err)
	}
}

func (s *Supervisor) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.UpdateAccountHeartbeat(ctx, s.account.ID, time.Now()); err != nil {
		s.logger.Error("failed to update heartbeat", "error", err)
	}
}

func (s *Supervisor) alert(level, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.db.CreateAlert(ctx, &models.SystemAlert{
		UserID:  s.account.UserID,
		Level:   level,
		Source:  "listener",
		Message: message,
	})
	if err != nil {
		s.logger.Error("failed to create alert", "error", err)
	}
}

func (s *Supervisor) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) setSession(session Session) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

func (s *Supervisor) resetAttempts() {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
}
