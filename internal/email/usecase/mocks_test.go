package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailrepo "mailpilot-backend/internal/email/repository"
	"mailpilot-backend/pkg/ai"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mockTransport is a scriptable MailTransport with call counters.
type mockTransport struct {
	mu sync.Mutex

	messages    []emaildomain.IncomingMessage
	nextCursor  string
	contentByID map[string]*emaildomain.FullContent

	fetchRecentErr error
	fetchByIDErrs  map[string]error
	fetchDelay     time.Duration

	fetchRecentCalls int
	fetchByIDCalls   map[string]int
	modifiedFlags    []string
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		nextCursor:     "cursor-next",
		contentByID:    make(map[string]*emaildomain.FullContent),
		fetchByIDErrs:  make(map[string]error),
		fetchByIDCalls: make(map[string]int),
	}
}

func (m *mockTransport) addMessage(messageID, sender, subject string, receivedAt time.Time, withContent bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := emaildomain.IncomingMessage{
		Record: emaildomain.EmailRecord{
			MessageID:     messageID,
			Folder:        "INBOX",
			SenderAddress: sender,
			SenderName:    sender,
			Subject:       subject,
			ReceivedAt:    receivedAt,
		},
	}
	content := &emaildomain.FullContent{
		MessageID: messageID,
		Subject:   subject,
		TextBody:  "body of " + messageID,
	}
	m.contentByID[messageID] = content
	if withContent {
		msg.Content = content
	}
	m.messages = append(m.messages, msg)
}

func (m *mockTransport) recentCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchRecentCalls
}

func (m *mockTransport) byIDCalls(messageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchByIDCalls[messageID]
}

func (m *mockTransport) totalByIDCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.fetchByIDCalls {
		total += n
	}
	return total
}

func (m *mockTransport) ListFolders(ctx context.Context, creds emaildomain.Credentials) ([]emaildomain.Folder, error) {
	return []emaildomain.Folder{{ID: "INBOX", Name: "INBOX"}}, nil
}

func (m *mockTransport) FetchRecent(ctx context.Context, creds emaildomain.Credentials, folder, cursor string, limit int) ([]emaildomain.IncomingMessage, string, error) {
	m.mu.Lock()
	m.fetchRecentCalls++
	err := m.fetchRecentErr
	messages := append([]emaildomain.IncomingMessage(nil), m.messages...)
	next := m.nextCursor
	delay := m.fetchDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, "", err
	}
	return messages, next, nil
}

func (m *mockTransport) FetchByID(ctx context.Context, creds emaildomain.Credentials, folder, messageID string) (*emaildomain.FullContent, error) {
	m.mu.Lock()
	m.fetchByIDCalls[messageID]++
	err := m.fetchByIDErrs[messageID]
	content := m.contentByID[messageID]
	delay := m.fetchDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, emaildomain.ErrNotFound
	}
	return content, nil
}

func (m *mockTransport) ModifyFlags(ctx context.Context, creds emaildomain.Credentials, folder, messageID string, patch emaildomain.FlagPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modifiedFlags = append(m.modifiedFlags, messageID)
	return nil
}

func (m *mockTransport) modifiedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.modifiedFlags)
}

// mockAnalyzer counts calls and tracks peak concurrency.
type mockAnalyzer struct {
	mu sync.Mutex

	delay  time.Duration
	errFor map[string]error

	calls  map[string]int
	active int
	peak   int
}

func newMockAnalyzer() *mockAnalyzer {
	return &mockAnalyzer{
		errFor: make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (m *mockAnalyzer) AnalyzeEmail(ctx context.Context, input ai.AnalysisInput) (*ai.EmailAnalysis, error) {
	m.mu.Lock()
	m.calls[input.Subject]++
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	err := m.errFor[input.Subject]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	m.active--
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &ai.EmailAnalysis{
		Category:   "work",
		Priority:   "medium",
		Sentiment:  "neutral",
		Confidence: 0.8,
		ModelUsed:  "mock",
		AnalyzedAt: time.Now(),
	}, nil
}

func (m *mockAnalyzer) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *mockAnalyzer) callsFor(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[subject]
}

func (m *mockAnalyzer) peakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// testEnv wires real repositories over in-memory SQLite with mock transport
// and analyzer.
type testEnv struct {
	db           *gorm.DB
	accountRepo  accountrepo.AccountRepository
	syncRepo     accountrepo.SyncStateRepository
	indexRepo    emailrepo.EmailIndexRepository
	contentRepo  emailrepo.ContentCacheRepository
	analysisRepo emailrepo.AnalysisCacheRepository
	transport    *mockTransport
	analyzer     *mockAnalyzer
	fetcher      *ContentFetcher
	processor    *AnalysisProcessor
	orchestrator *SyncOrchestrator
	facade       *EmailFacade
	account      *accountdomain.Account
}

type envOptions struct {
	workers      int
	window       int
	contentTTL   time.Duration
	analysisTTL  time.Duration
	syncInterval time.Duration
}

func defaultEnvOptions() envOptions {
	return envOptions{
		workers:      3,
		window:       50,
		contentTTL:   time.Hour,
		analysisTTL:  time.Hour,
		syncInterval: time.Hour,
	}
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.SyncState{},
		&emaildomain.EmailRecord{},
		&emaildomain.CachedContent{},
		&emaildomain.AnalysisResult{},
	)
	require.NoError(t, err)

	env := &testEnv{
		db:           db,
		accountRepo:  accountrepo.NewAccountRepository(db),
		syncRepo:     accountrepo.NewSyncStateRepository(db),
		indexRepo:    emailrepo.NewEmailIndexRepository(db),
		contentRepo:  emailrepo.NewContentCacheRepository(db),
		analysisRepo: emailrepo.NewAnalysisCacheRepository(db),
		transport:    newMockTransport(),
		analyzer:     newMockAnalyzer(),
	}

	transports := map[emaildomain.TransportKind]emaildomain.MailTransport{
		emaildomain.TransportGmail: env.transport,
	}

	env.fetcher = NewContentFetcher(
		transports, env.contentRepo, env.indexRepo, env.accountRepo,
		opts.contentTTL, 5*time.Second,
	)
	env.processor = NewAnalysisProcessor(
		env.indexRepo, env.analysisRepo, env.fetcher, env.analyzer,
		opts.workers, opts.window, opts.analysisTTL, 5*time.Second,
	)
	env.orchestrator = NewSyncOrchestrator(
		env.accountRepo, env.syncRepo, env.indexRepo, env.fetcher, env.processor,
		opts.syncInterval, time.Minute, 100,
	)
	env.facade = NewEmailFacade(
		env.accountRepo, env.indexRepo, env.analysisRepo, env.fetcher, env.processor,
	)

	env.account = &accountdomain.Account{
		EmailAddress:  "user@example.com",
		TransportKind: string(emaildomain.TransportGmail),
		AccessToken:   "tok",
	}
	require.NoError(t, env.accountRepo.Create(env.account))

	return env
}

// indexMessage puts a metadata row directly into the index.
func (e *testEnv) indexMessage(t *testing.T, messageID, sender string, bulk bool) {
	t.Helper()
	require.NoError(t, e.indexRepo.Upsert(&emaildomain.EmailRecord{
		AccountID:     e.account.ID,
		MessageID:     messageID,
		Folder:        "INBOX",
		SenderAddress: sender,
		Subject:       messageID,
		ReceivedAt:    time.Now(),
		IsBulk:        bulk,
	}))
	e.transport.mu.Lock()
	e.transport.contentByID[messageID] = &emaildomain.FullContent{
		MessageID: messageID,
		Subject:   messageID,
		TextBody:  "body of " + messageID,
	}
	e.transport.mu.Unlock()
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, condition(), "condition not met within %v", timeout)
}
