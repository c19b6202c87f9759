package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailpush/internal/config"
	"github.com/mixelka/mailpush/internal/crypto"
	"github.com/mixelka/mailpush/internal/database"
	"github.com/mixelka/mailpush/internal/email"
	"github.com/mixelka/mailpush/pkg/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestVault(t *testing.T) *crypto.Vault {
	t.Helper()
	vault, err := crypto.NewVault(testKey)
	require.NoError(t, err)
	return vault
}

func testConfig() *config.Config {
	return &config.Config{
		IMAPDialTimeout:      time.Second,
		PollInterval:         10 * time.Millisecond,
		FetchTimeout:         time.Second,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    8 * time.Millisecond,
		ReconnectMaxAttempts: 3,
		PreviewMaxRunes:      200,
	}
}

func newTestAccount(t *testing.T, db *database.DB, vault *crypto.Vault) *models.MailboxAccount {
	t.Helper()
	encrypted, err := vault.Encrypt("secret")
	require.NoError(t, err)

	account := &models.MailboxAccount{
		UserID:   7,
		Email:    "me@example.com",
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		Password: encrypted,
		IsActive: true,
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))
	return account
}

// fakeSession is a scriptable Session for supervisor tests
type fakeSession struct {
	mu           sync.Mutex
	failConnects int // first N Connect calls fail
	connects     int
	noopErr      error
	uids         []uint32
	emails       []*email.RawEmail
	seen         []uint32
	deleted      []uint32
	closed       bool
}

func (f *fakeSession) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connects <= f.failConnects {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeSession) SelectInbox() error { return nil }

func (f *fakeSession) SearchUnseen() ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uids, nil
}

func (f *fakeSession) FetchByUID(_ []uint32) ([]*email.RawEmail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emails, nil
}

func (f *fakeSession) MarkSeen(uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, uid)
	return nil
}

func (f *fakeSession) Delete(uid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, uid)
	return nil
}

func (f *fakeSession) Noop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.noopErr
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSession) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestSupervisor(t *testing.T, session Session) (*Supervisor, *database.DB, *models.MailboxAccount) {
	t.Helper()
	db := newTestDB(t)
	vault := newTestVault(t)
	account := newTestAccount(t, db, vault)

	processor := NewProcessor(db, nil, nil, testLogger())
	sup := NewSupervisor(account, testConfig(), db, vault, processor, testLogger())
	sup.newSession = func(_ *models.MailboxAccount, password, addr string) Session {
		assert.Equal(t, "secret", password)
		assert.Equal(t, "imap.example.com:993", addr)
		return session
	}
	return sup, db, account
}

func TestBackoffDelaySequence(t *testing.T) {
	base := 5 * time.Second
	max := 320 * time.Second

	expected := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		80 * time.Second, 160 * time.Second, 320 * time.Second, 320 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, BackoffDelay(i+1, base, max), "attempt %d", i+1)
	}

	// Out-of-range attempts clamp to the first delay
	assert.Equal(t, base, BackoffDelay(0, base, max))
}

func TestSupervisorConnectsAndStops(t *testing.T) {
	session := &fakeSession{}
	sup, db, account := newTestSupervisor(t, session)

	sup.Start()
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	sup.Stop()
	assert.Equal(t, StateStopped, sup.State())
	assert.True(t, session.isClosed())

	stored, err := db.GetAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusDisconnected, stored.Status)
}

func TestSupervisorReconnectsAfterFailure(t *testing.T) {
	session := &fakeSession{failConnects: 2}
	sup, _, _ := newTestSupervisor(t, session)

	sup.Start()
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, session.connectCount())
	// A successful connect resets the attempt counter
	assert.Equal(t, 0, sup.Attempts())

	sup.Stop()
}

func TestSupervisorStopDuringBackoff(t *testing.T) {
	session := &fakeSession{failConnects: 1000}
	sup, _, _ := newTestSupervisor(t, session)
	// Long delays so the supervisor is parked in backoff when Stop lands
	sup.cfg = &config.Config{
		IMAPDialTimeout:      time.Second,
		PollInterval:         10 * time.Millisecond,
		FetchTimeout:         time.Second,
		ReconnectBaseDelay:   time.Hour,
		ReconnectMaxDelay:    time.Hour,
		ReconnectMaxAttempts: 10,
	}

	sup.Start()
	require.Eventually(t, func() bool {
		return sup.State() == StateReconnecting
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not release the backoff timer")
	}

	assert.Equal(t, StateStopped, sup.State())
	assert.Equal(t, 1, session.connectCount())
}

func TestSupervisorExhaustsAttempts(t *testing.T) {
	session := &fakeSession{failConnects: 1000}
	sup, db, account := newTestSupervisor(t, session)

	sup.Start()
	require.Eventually(t, func() bool {
		return sup.State() == StateError
	}, 2*time.Second, 5*time.Millisecond)

	// 3 allowed attempts plus the initial try
	assert.Equal(t, 4, session.connectCount())

	stored, err := db.GetAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusError, stored.Status)

	alerts, err := db.GetUnreadAlerts(context.Background(), account.UserID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertFatal, alerts[0].Level)
	assert.Contains(t, alerts[0].Message, account.Email)
}

func TestSupervisorUndecryptableCredentialIsTerminal(t *testing.T) {
	session := &fakeSession{}
	sup, db, account := newTestSupervisor(t, session)
	sup.account.Password = "not-a-ciphertext"

	sup.Start()
	require.Eventually(t, func() bool {
		return sup.State() == StateError
	}, 2*time.Second, 5*time.Millisecond)

	// No session is ever opened for a credential that cannot be decrypted
	assert.Equal(t, 0, session.connectCount())

	alerts, err := db.GetUnreadAlerts(context.Background(), account.UserID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertFatal, alerts[0].Level)
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	session := &fakeSession{}
	sup, _, _ := newTestSupervisor(t, session)

	sup.Start()
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)

	sup.Stop()
	sup.Stop()
	assert.Equal(t, StateStopped, sup.State())
}
