package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailrepo "mailpilot-backend/internal/email/repository"
)

// ContentFetcher is the single path to full message bodies: check the
// content cache, fall back to the transport, backfill the cache. Everything
// that needs a body (the read path, the analysis workers) goes through it,
// so a body is fetched at most once per TTL window.
type ContentFetcher struct {
	transports   map[emaildomain.TransportKind]emaildomain.MailTransport
	contentCache emailrepo.ContentCacheRepository
	indexRepo    emailrepo.EmailIndexRepository
	accountRepo  accountrepo.AccountRepository
	contentTTL   time.Duration
	fetchTimeout time.Duration
}

// NewContentFetcher creates a new ContentFetcher
func NewContentFetcher(
	transports map[emaildomain.TransportKind]emaildomain.MailTransport,
	contentCache emailrepo.ContentCacheRepository,
	indexRepo emailrepo.EmailIndexRepository,
	accountRepo accountrepo.AccountRepository,
	contentTTL time.Duration,
	fetchTimeout time.Duration,
) *ContentFetcher {
	return &ContentFetcher{
		transports:   transports,
		contentCache: contentCache,
		indexRepo:    indexRepo,
		accountRepo:  accountRepo,
		contentTTL:   contentTTL,
		fetchTimeout: fetchTimeout,
	}
}

// Transport resolves the transport for an account's kind.
func (f *ContentFetcher) Transport(kind emaildomain.TransportKind) (emaildomain.MailTransport, error) {
	transport, ok := f.transports[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no transport registered for kind %q", emaildomain.ErrValidation, kind)
	}
	return transport, nil
}

// Credentials builds transport credentials for the account, wiring token
// refresh persistence back into the account store.
func (f *ContentFetcher) Credentials(account *accountdomain.Account) emaildomain.Credentials {
	accountID := account.ID
	return account.Credentials(func(accessToken, refreshToken string) error {
		return f.accountRepo.UpdateTokens(accountID, accessToken, refreshToken)
	})
}

// GetContent returns the full body for a message, from cache when fresh,
// otherwise via a bounded transport fetch that backfills the cache.
func (f *ContentFetcher) GetContent(ctx context.Context, account *accountdomain.Account, folder, messageID string) (*emaildomain.FullContent, error) {
	content, found, err := f.contentCache.Get(account.ID, messageID)
	if err != nil {
		return nil, err
	}
	if found {
		return content, nil
	}

	transport, err := f.Transport(emaildomain.TransportKind(account.TransportKind))
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.fetchTimeout)
	defer cancel()

	content, err = transport.FetchByID(fetchCtx, f.Credentials(account), folder, messageID)
	if err != nil {
		if errors.Is(err, emaildomain.ErrNotFound) {
			// The message vanished server-side; drop our local traces.
			if cerr := f.contentCache.Invalidate(account.ID, messageID); cerr != nil {
				log.Printf("[Fetcher] Failed to invalidate cache for %s: %v", messageID, cerr)
			}
			if derr := f.indexRepo.Delete(account.ID, messageID); derr != nil {
				log.Printf("[Fetcher] Failed to remove index row for %s: %v", messageID, derr)
			}
		}
		return nil, err
	}

	if err := f.contentCache.Put(account.ID, content, f.contentTTL); err != nil {
		// The fetched body is still good; a backfill failure only costs a
		// refetch next time.
		log.Printf("[Fetcher] Failed to backfill content cache for %s: %v", messageID, err)
	}

	return content, nil
}

// WarmCache stores a body the sync path already has in hand.
func (f *ContentFetcher) WarmCache(accountID string, content *emaildomain.FullContent) {
	if content == nil {
		return
	}
	if err := f.contentCache.Put(accountID, content, f.contentTTL); err != nil {
		log.Printf("[Fetcher] Failed to pre-warm content cache for %s: %v", content.MessageID, err)
	}
}
