package main

import (
	"context"
	"log"
	"strings"

	api "mailpilot-backend/cmd/api"
	accountdomain "mailpilot-backend/internal/account/domain"
	accountRepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailRepo "mailpilot-backend/internal/email/repository"
	emailUsecase "mailpilot-backend/internal/email/usecase"
	"mailpilot-backend/internal/notification"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/config"
	"mailpilot-backend/pkg/database"
	"mailpilot-backend/pkg/gmail"
	"mailpilot-backend/pkg/imapmail"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&accountdomain.SyncState{},
		&emaildomain.EmailRecord{},
		&emaildomain.CachedContent{},
		&emaildomain.AnalysisResult{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	accountRepository := accountRepo.NewAccountRepository(db)
	syncStateRepository := accountRepo.NewSyncStateRepository(db)
	indexRepository := emailRepo.NewEmailIndexRepository(db)
	contentCacheRepository := emailRepo.NewContentCacheRepository(db)
	analysisCacheRepository := emailRepo.NewAnalysisCacheRepository(db)

	// Initialize mail transports
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)
	transports := map[emaildomain.TransportKind]emaildomain.MailTransport{
		emaildomain.TransportGmail: gmailService,
		emaildomain.TransportIMAP:  imapmail.NewService(),
	}

	// Initialize AI analyzer
	analyzer, err := ai.NewAnalyzer(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		GeminiAPIKey:  cfg.GeminiAPIKey,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})
	if err != nil {
		log.Fatal("Failed to initialize AI analyzer:", err)
	}

	// Initialize use cases (dependency injection)
	fetcher := emailUsecase.NewContentFetcher(
		transports, contentCacheRepository, indexRepository, accountRepository,
		cfg.ContentCacheTTL, cfg.FetchTimeout,
	)
	processor := emailUsecase.NewAnalysisProcessor(
		indexRepository, analysisCacheRepository, fetcher, analyzer,
		cfg.AnalysisWorkers, cfg.RecentWindow, cfg.AnalysisCacheTTL, cfg.AnalyzeTimeout,
	)
	orchestrator := emailUsecase.NewSyncOrchestrator(
		accountRepository, syncStateRepository, indexRepository, fetcher, processor,
		cfg.SyncInterval, cfg.SyncLockTTL, 100,
	)
	facade := emailUsecase.NewEmailFacade(
		accountRepository, indexRepository, analysisCacheRepository, fetcher, processor,
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start per-account sync loops
	if err := orchestrator.Start(rootCtx); err != nil {
		log.Fatal("Failed to start sync orchestrator:", err)
	}
	defer orchestrator.Stop()

	// Start cache sweep scheduler
	cleanup := emailUsecase.NewCleanupScheduler(contentCacheRepository, analysisCacheRepository, cfg.SweepInterval)
	cleanup.Start(rootCtx)

	// Initialize Notification Service (Pub/Sub)
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}

		notifService, err := notification.NewService(
			cfg.GoogleProjectID, topicName, cfg.GoogleCredentials,
			accountRepository, orchestrator, fetcher, gmailService,
		)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(rootCtx)
		}
	} else {
		log.Printf("[WARN] GOOGLE_PROJECT_ID not configured, push notifications disabled")
	}

	// Initialize HTTP router
	r := gin.Default()
	api.SetupRoutes(r, rootCtx, accountRepository, syncStateRepository, facade, orchestrator)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
