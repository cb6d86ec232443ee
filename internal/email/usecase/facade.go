package usecase

import (
	"context"
	"errors"
	"log"
	"time"

	accountrepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailrepo "mailpilot-backend/internal/email/repository"
)

// EmailListItem is an index row decorated with its cached analysis when one
// exists. Analysis is never computed on the list path.
type EmailListItem struct {
	emaildomain.EmailRecord
	Analysis *emaildomain.AnalysisResult `json:"analysis,omitempty"`
}

// EmailFacade is the retrieval surface. Listing is always served from the
// local index, bodies come through the ContentFetcher, and analysis is
// served from cache or deferred to the background processor.
type EmailFacade struct {
	accountRepo  accountrepo.AccountRepository
	indexRepo    emailrepo.EmailIndexRepository
	analysisRepo emailrepo.AnalysisCacheRepository
	fetcher      *ContentFetcher
	processor    *AnalysisProcessor
}

// NewEmailFacade creates a new EmailFacade
func NewEmailFacade(
	accountRepo accountrepo.AccountRepository,
	indexRepo emailrepo.EmailIndexRepository,
	analysisRepo emailrepo.AnalysisCacheRepository,
	fetcher *ContentFetcher,
	processor *AnalysisProcessor,
) *EmailFacade {
	return &EmailFacade{
		accountRepo:  accountRepo,
		indexRepo:    indexRepo,
		analysisRepo: analysisRepo,
		fetcher:      fetcher,
		processor:    processor,
	}
}

// ListEmails returns a page of metadata, newest first, decorated with any
// cached analysis. Never touches the mail transport.
func (f *EmailFacade) ListEmails(accountID, folder string, opts emailrepo.ListOptions) ([]EmailListItem, int64, error) {
	records, total, err := f.indexRepo.List(accountID, folder, opts)
	if err != nil {
		return nil, 0, err
	}

	messageIDs := make([]string, len(records))
	for i := range records {
		messageIDs[i] = records[i].MessageID
	}

	analyses, err := f.analysisRepo.GetMany(accountID, messageIDs)
	if err != nil {
		// Degrade to undecorated listing; the fast path must not fail
		// because the analysis cache hiccuped.
		log.Printf("[Email] Analysis decoration failed for account %s: %v", accountID, err)
		analyses = nil
	}

	items := make([]EmailListItem, len(records))
	for i := range records {
		items[i] = EmailListItem{EmailRecord: records[i]}
		if analysis, ok := analyses[records[i].MessageID]; ok {
			a := analysis
			items[i].Analysis = &a
		}
	}
	return items, total, nil
}

// ListFolders returns the account's folders straight from the transport,
// bounded by the fetch timeout.
func (f *EmailFacade) ListFolders(ctx context.Context, accountID string) ([]emaildomain.Folder, error) {
	account, err := f.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	transport, err := f.fetcher.Transport(emaildomain.TransportKind(account.TransportKind))
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.fetcher.fetchTimeout)
	defer cancel()

	return transport.ListFolders(fetchCtx, f.fetcher.Credentials(account))
}

// GetContent returns the full body for one message, fetching from the
// transport when the cache misses.
func (f *EmailFacade) GetContent(ctx context.Context, accountID, messageID string) (*emaildomain.FullContent, error) {
	account, err := f.accountRepo.GetByID(accountID)
	if err != nil {
		return nil, err
	}
	record, err := f.indexRepo.GetByMessageID(accountID, messageID)
	if err != nil {
		return nil, err
	}
	return f.fetcher.GetContent(ctx, account, record.Folder, messageID)
}

// GetAnalysis returns the cached analysis for a message, or found=false when
// none is fresh. When enqueue is set and the message qualifies, a background
// analysis run is scheduled; the call itself never blocks on the analyzer.
func (f *EmailFacade) GetAnalysis(accountID, messageID string, enqueue bool) (*emaildomain.AnalysisResult, bool, error) {
	result, found, err := f.analysisRepo.Get(accountID, messageID)
	if err != nil {
		return nil, false, err
	}
	if found {
		return result, true, nil
	}

	if enqueue {
		account, err := f.accountRepo.GetByID(accountID)
		if err != nil {
			return nil, false, err
		}
		record, err := f.indexRepo.GetByMessageID(accountID, messageID)
		if err != nil {
			return nil, false, err
		}
		f.processor.EnqueueOne(account, record)
	}
	return nil, false, nil
}

// UpdateFlags applies a flag patch to the local index, then mirrors it to
// the mail server best-effort: the local state is authoritative for the UI
// and a transport hiccup must not lose the user's action.
func (f *EmailFacade) UpdateFlags(ctx context.Context, accountID, messageID string, patch emaildomain.FlagPatch) (*emaildomain.EmailRecord, error) {
	if patch.Empty() {
		return f.indexRepo.GetByMessageID(accountID, messageID)
	}

	record, err := f.indexRepo.GetByMessageID(accountID, messageID)
	if err != nil {
		return nil, err
	}
	if err := f.indexRepo.UpdateFlags(accountID, messageID, patch); err != nil {
		return nil, err
	}

	account, err := f.accountRepo.GetByID(accountID)
	if err == nil {
		go f.mirrorFlags(account.ID, record.Folder, messageID, patch)
	}

	return f.indexRepo.GetByMessageID(accountID, messageID)
}

func (f *EmailFacade) mirrorFlags(accountID, folder, messageID string, patch emaildomain.FlagPatch) {
	account, err := f.accountRepo.GetByID(accountID)
	if err != nil {
		return
	}
	transport, err := f.fetcher.Transport(emaildomain.TransportKind(account.TransportKind))
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := transport.ModifyFlags(ctx, f.fetcher.Credentials(account), folder, messageID, patch); err != nil {
		if errors.Is(err, emaildomain.ErrAuthExpired) {
			log.Printf("[Email] Flag mirror skipped for %s: credentials expired", account.EmailAddress)
			return
		}
		log.Printf("[Email] Failed to mirror flags for message %s: %v", messageID, err)
	}
}
