package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailrepo "mailpilot-backend/internal/email/repository"
	"mailpilot-backend/pkg/ai"
)

// AnalysisProcessor runs AI analysis over recent messages in the background.
// Parallelism is capped by a worker semaphore and an in-flight map guarantees
// a message is analyzed at most once at a time, even when a sync batch and an
// on-demand hint race.
type AnalysisProcessor struct {
	indexRepo      emailrepo.EmailIndexRepository
	analysisRepo   emailrepo.AnalysisCacheRepository
	fetcher        *ContentFetcher
	analyzer       ai.Analyzer
	workers        int
	window         int
	analysisTTL    time.Duration
	analyzeTimeout time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewAnalysisProcessor creates a new AnalysisProcessor
func NewAnalysisProcessor(
	indexRepo emailrepo.EmailIndexRepository,
	analysisRepo emailrepo.AnalysisCacheRepository,
	fetcher *ContentFetcher,
	analyzer ai.Analyzer,
	workers int,
	window int,
	analysisTTL time.Duration,
	analyzeTimeout time.Duration,
) *AnalysisProcessor {
	if workers <= 0 {
		workers = 5
	}
	if window <= 0 {
		window = 50
	}
	return &AnalysisProcessor{
		indexRepo:      indexRepo,
		analysisRepo:   analysisRepo,
		fetcher:        fetcher,
		analyzer:       analyzer,
		workers:        workers,
		window:         window,
		analysisTTL:    analysisTTL,
		analyzeTimeout: analyzeTimeout,
	}
}

func (p *AnalysisProcessor) claim(accountID, messageID string) bool {
	key := accountID + "/" + messageID
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight == nil {
		p.inFlight = make(map[string]bool)
	}
	if p.inFlight[key] {
		return false
	}
	p.inFlight[key] = true
	return true
}

func (p *AnalysisProcessor) unclaim(accountID, messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, accountID+"/"+messageID)
}

// ProcessRecent analyzes the most recent un-analyzed messages in folder,
// bounded by the processor window. One failing message never aborts the
// batch; an expired credential does, because every remaining fetch would
// fail the same way.
func (p *AnalysisProcessor) ProcessRecent(ctx context.Context, account *accountdomain.Account, folder string) error {
	candidates, err := p.indexRepo.RecentCandidates(account.ID, folder, p.window, time.Now())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, p.workers)
		authErr   error
		authOnce  sync.Once
	)

	for i := range candidates {
		record := candidates[i]

		if ctx.Err() != nil {
			break
		}
		// Stop scheduling once credentials are known-bad.
		p.mu.Lock()
		aborted := authErr != nil
		p.mu.Unlock()
		if aborted {
			break
		}

		if !ShouldAnalyze(&record) {
			continue
		}
		if !p.claim(account.ID, record.MessageID) {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer p.unclaim(account.ID, record.MessageID)

			if err := p.analyzeOne(ctx, account, &record); err != nil {
				if errors.Is(err, emaildomain.ErrAuthExpired) {
					authOnce.Do(func() {
						p.mu.Lock()
						authErr = err
						p.mu.Unlock()
					})
					return
				}
				log.Printf("[Processor] Analysis failed for message %s: %v", record.MessageID, err)
			}
		}()
	}

	wg.Wait()
	return authErr
}

// EnqueueOne schedules a single message for analysis without blocking the
// caller. Used as a hint from the read path when a client asks for analysis
// that is not cached yet.
func (p *AnalysisProcessor) EnqueueOne(account *accountdomain.Account, record *emaildomain.EmailRecord) {
	if !ShouldAnalyze(record) {
		return
	}
	if !p.claim(account.ID, record.MessageID) {
		return
	}

	recordCopy := *record
	accountCopy := *account
	go func() {
		defer p.unclaim(accountCopy.ID, recordCopy.MessageID)
		if err := p.analyzeOne(context.Background(), &accountCopy, &recordCopy); err != nil {
			log.Printf("[Processor] On-demand analysis failed for message %s: %v", recordCopy.MessageID, err)
		}
	}()
}

// analyzeOne fetches the body, runs the analyzer and persists the result.
// Skips work when a fresh cached result appeared since scheduling.
func (p *AnalysisProcessor) analyzeOne(ctx context.Context, account *accountdomain.Account, record *emaildomain.EmailRecord) error {
	if _, found, err := p.analysisRepo.Get(account.ID, record.MessageID); err != nil {
		return err
	} else if found {
		return nil
	}

	content, err := p.fetcher.GetContent(ctx, account, record.Folder, record.MessageID)
	if err != nil {
		return err
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, p.analyzeTimeout)
	defer cancel()

	analysis, err := p.analyzer.AnalyzeEmail(analyzeCtx, ai.AnalysisInput{
		Subject: record.Subject,
		Sender:  record.SenderAddress,
		Body:    content.Body(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", emaildomain.ErrAnalyzer, err)
	}

	return p.analysisRepo.Put(&emaildomain.AnalysisResult{
		AccountID:   account.ID,
		MessageID:   record.MessageID,
		Category:    analysis.Category,
		Priority:    analysis.Priority,
		Sentiment:   analysis.Sentiment,
		DraftReply:  analysis.DraftReply,
		Confidence:  analysis.Confidence,
		ModelUsed:   analysis.ModelUsed,
		GeneratedAt: analysis.AnalyzedAt,
	}, p.analysisTTL)
}
