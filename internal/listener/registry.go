package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mixelka/mailpush/internal/config"
	"github.com/mixelka/mailpush/internal/crypto"
	"github.com/mixelka/mailpush/internal/database"
	"github.com/mixelka/mailpush/internal/email"
)

// Registry supervises all running listeners, keyed by account id. It
// owns the collection outright; nothing else holds supervisor
// references.
type Registry struct {
	cfg       *config.Config
	db        *database.DB
	vault     *crypto.Vault
	processor *Processor
	logger    *slog.Logger

	mu        sync.Mutex
	listeners map[int64]*Supervisor
}

// NewRegistry creates a registry
func NewRegistry(cfg *config.Config, db *database.DB, vault *crypto.Vault, processor *Processor, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		db:        db,
		vault:     vault,
		processor: processor,
		logger:    logger.With("component", "registry"),
		listeners: make(map[int64]*Supervisor),
	}
}

// Start starts a listener for the account, stopping any prior
// instance for the same id first so Start is safely idempotent.
func (r *Registry) Start(ctx context.Context, accountID int64) error {
	account, err := r.db.GetAccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	if !account.IsActive {
		return fmt.Errorf("account %d is disabled", accountID)
	}

	r.mu.Lock()
	prior := r.listeners[accountID]
	delete(r.listeners, accountID)
	r.mu.Unlock()

	if prior != nil {
		r.logger.Info("stopping prior listener before restart", "account_id", accountID)
		prior.Stop()
	}

	sup := NewSupervisor(account, r.cfg, r.db, r.vault, r.processor, r.logger)

	r.mu.Lock()
	r.listeners[accountID] = sup
	r.mu.Unlock()

	sup.Start()
	r.logger.Info("listener started", "account_id", accountID, "email", account.Email)
	return nil
}

// Stop stops and removes the listener for the account; a missing
// listener is a no-op.
func (r *Registry) Stop(accountID int64) {
	r.mu.Lock()
	sup := r.listeners[accountID]
	delete(r.listeners, accountID)
	r.mu.Unlock()

	if sup == nil {
		return
	}
	sup.Stop()
}

// StartAll bootstraps listeners for every account that is active and
// was last known connected. Per-account failures are logged, never
// fatal to the boot.
func (r *Registry) StartAll(ctx context.Context) error {
	accounts, err := r.db.GetConnectedAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts for bootstrap: %w", err)
	}

	r.logger.Info("bootstrapping listeners", "count", len(accounts))
	for _, account := range accounts {
		if err := r.Start(ctx, account.ID); err != nil {
			r.logger.Error("failed to start listener", "account_id", account.ID, "error", err)
		}
	}
	return nil
}

// StopAll stops every running listener, used on process shutdown
func (r *Registry) StopAll() {
	r.mu.Lock()
	running := make([]*Supervisor, 0, len(r.listeners))
	for id, sup := range r.listeners {
		running = append(running, sup)
		delete(r.listeners, id)
	}
	r.mu.Unlock()

	r.logger.Info("stopping all listeners", "count", len(running))

	var wg sync.WaitGroup
	for _, sup := range running {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Stop()
		}(sup)
	}
	wg.Wait()

	r.logger.Info("all listeners stopped")
}

// Running returns the account ids with a registered listener
func (r *Registry) Running() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]int64, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	return ids
}

// StateOf returns the listener state for an account, or StateStopped
// when none is registered.
func (r *Registry) StateOf(accountID int64) State {
	r.mu.Lock()
	sup := r.listeners[accountID]
	r.mu.Unlock()

	if sup == nil {
		return StateStopped
	}
	return sup.State()
}

// TestConnection verifies credentials by opening and closing a
// session, used by account-setup surfaces before saving.
func (r *Registry) TestConnection(emailAddr, password, addr string) error {
	if addr == "" {
		resolved, err := email.ResolveIMAPServer(emailAddr)
		if err != nil {
			return fmt.Errorf("failed to resolve IMAP server: %w", err)
		}
		addr = resolved
	}

	client := email.NewClient(email.ClientConfig{
		Email:       emailAddr,
		Password:    password,
		Addr:        addr,
		DialTimeout: r.cfg.IMAPDialTimeout,
	}, r.logger)

	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.SelectInbox(); err != nil {
		return err
	}
	return nil
}
