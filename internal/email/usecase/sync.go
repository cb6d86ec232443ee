package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailrepo "mailpilot-backend/internal/email/repository"
)

const defaultFolder = "INBOX"

// ErrSyncBusy reports that another sync cycle currently holds the account's
// lease. Callers treat it as "try again later", not a failure.
var ErrSyncBusy = errors.New("sync already in progress")

type accountLoop struct {
	trigger chan struct{}
	stop    chan struct{}
}

// SyncOrchestrator runs one sync loop per account: a ticker for periodic
// cycles plus a trigger channel for on-demand and push-notified cycles.
// The database lease (sync_states) guarantees mutual exclusion even across
// server instances; the loop only decides when to try.
type SyncOrchestrator struct {
	accountRepo   accountrepo.AccountRepository
	syncStateRepo accountrepo.SyncStateRepository
	indexRepo     emailrepo.EmailIndexRepository
	fetcher       *ContentFetcher
	processor     *AnalysisProcessor
	syncInterval  time.Duration
	lockTTL       time.Duration
	batchLimit    int

	mu    sync.Mutex
	loops map[string]*accountLoop
	wg    sync.WaitGroup
}

// NewSyncOrchestrator creates a new SyncOrchestrator
func NewSyncOrchestrator(
	accountRepo accountrepo.AccountRepository,
	syncStateRepo accountrepo.SyncStateRepository,
	indexRepo emailrepo.EmailIndexRepository,
	fetcher *ContentFetcher,
	processor *AnalysisProcessor,
	syncInterval time.Duration,
	lockTTL time.Duration,
	batchLimit int,
) *SyncOrchestrator {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &SyncOrchestrator{
		accountRepo:   accountRepo,
		syncStateRepo: syncStateRepo,
		indexRepo:     indexRepo,
		fetcher:       fetcher,
		processor:     processor,
		syncInterval:  syncInterval,
		lockTTL:       lockTTL,
		batchLimit:    batchLimit,
		loops:         make(map[string]*accountLoop),
	}
}

// Start launches a sync loop for every registered account.
func (o *SyncOrchestrator) Start(ctx context.Context) error {
	accounts, err := o.accountRepo.List()
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	for i := range accounts {
		o.StartAccount(ctx, accounts[i].ID)
	}
	log.Printf("[Sync] Started loops for %d accounts", len(accounts))
	return nil
}

// StartAccount launches the loop for one account. Idempotent.
func (o *SyncOrchestrator) StartAccount(ctx context.Context, accountID string) {
	o.mu.Lock()
	if _, running := o.loops[accountID]; running {
		o.mu.Unlock()
		return
	}
	loop := &accountLoop{
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	o.loops[accountID] = loop
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(ctx, accountID, loop)
}

// StopAccount stops one account's loop.
func (o *SyncOrchestrator) StopAccount(accountID string) {
	o.mu.Lock()
	loop, ok := o.loops[accountID]
	if ok {
		delete(o.loops, accountID)
	}
	o.mu.Unlock()
	if ok {
		close(loop.stop)
	}
}

// Stop shuts down every loop and waits for in-progress cycles to finish.
func (o *SyncOrchestrator) Stop() {
	o.mu.Lock()
	for id, loop := range o.loops {
		close(loop.stop)
		delete(o.loops, id)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Trigger requests an immediate cycle for the account. Non-blocking: if a
// trigger is already pending the new one coalesces with it.
func (o *SyncOrchestrator) Trigger(accountID string) bool {
	o.mu.Lock()
	loop, ok := o.loops[accountID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case loop.trigger <- struct{}{}:
	default:
	}
	return true
}

// Status returns the account's sync state for the API surface.
func (o *SyncOrchestrator) Status(accountID string) (*accountdomain.SyncState, error) {
	return o.syncStateRepo.Get(accountID)
}

// SyncNow runs one cycle synchronously, for the manual sync endpoint.
// Returns ErrSyncBusy when another cycle holds the lease.
func (o *SyncOrchestrator) SyncNow(ctx context.Context, accountID string) error {
	account, err := o.accountRepo.GetByID(accountID)
	if err != nil {
		return err
	}
	return o.runCycle(ctx, account)
}

func (o *SyncOrchestrator) run(ctx context.Context, accountID string, loop *accountLoop) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.syncInterval)
	defer ticker.Stop()

	cycle := func() {
		account, err := o.accountRepo.GetByID(accountID)
		if err != nil {
			log.Printf("[Sync] Account %s no longer loadable: %v", accountID, err)
			return
		}
		if err := o.runCycle(ctx, account); err != nil && !errors.Is(err, ErrSyncBusy) {
			log.Printf("[Sync] Cycle failed for %s: %v", account.EmailAddress, err)
		}
	}

	// Initial cycle on startup so a fresh account fills its index promptly.
	cycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-loop.stop:
			return
		case <-loop.trigger:
			cycle()
		case <-ticker.C:
			cycle()
		}
	}
}

// runCycle is one full sync: lease, fetch, index, pre-warm, analyze, release.
func (o *SyncOrchestrator) runCycle(ctx context.Context, account *accountdomain.Account) error {
	if _, err := o.syncStateRepo.EnsureForAccount(account.ID); err != nil {
		return err
	}

	token, err := o.syncStateRepo.AcquireLock(account.ID, o.lockTTL)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrSyncBusy
	}

	state, err := o.syncStateRepo.Get(account.ID)
	if err != nil {
		o.releaseAfter(account.ID, token, err)
		return err
	}

	transport, err := o.fetcher.Transport(emaildomain.TransportKind(account.TransportKind))
	if err != nil {
		o.releaseAfter(account.ID, token, err)
		return err
	}

	messages, newCursor, err := transport.FetchRecent(ctx, o.fetcher.Credentials(account), defaultFolder, state.LastCursor, o.batchLimit)
	if err != nil {
		o.releaseAfter(account.ID, token, err)
		return err
	}

	indexed := 0
	for i := range messages {
		record := messages[i].Record
		record.AccountID = account.ID
		if record.Folder == "" {
			record.Folder = defaultFolder
		}
		if err := o.indexRepo.Upsert(&record); err != nil {
			log.Printf("[Sync] Failed to index message %s: %v", record.MessageID, err)
			continue
		}
		indexed++
		o.fetcher.WarmCache(account.ID, messages[i].Content)
	}
	if len(messages) > 0 {
		log.Printf("[Sync] Indexed %d/%d messages for %s", indexed, len(messages), account.EmailAddress)
	}

	if err := o.processor.ProcessRecent(ctx, account, defaultFolder); err != nil {
		o.releaseAfter(account.ID, token, err)
		return err
	}

	return o.syncStateRepo.ReleaseSuccess(account.ID, token, newCursor)
}

// releaseAfter maps a cycle error onto the right state transition: expired
// credentials stop automatic syncing until the account is re-armed, anything
// else leaves the account ready to retry.
func (o *SyncOrchestrator) releaseAfter(accountID, token string, err error) {
	if errors.Is(err, emaildomain.ErrAuthExpired) {
		if rerr := o.syncStateRepo.MarkErrored(accountID, token, err.Error()); rerr != nil {
			log.Printf("[Sync] Failed to mark account %s errored: %v", accountID, rerr)
		}
		return
	}
	if rerr := o.syncStateRepo.ReleaseTransient(accountID, token, err.Error()); rerr != nil {
		log.Printf("[Sync] Failed to release sync lock for %s: %v", accountID, rerr)
	}
}
