package api

import (
	"context"
	"net/http"

	accountDelivery "mailpilot-backend/internal/account/delivery"
	accountRepo "mailpilot-backend/internal/account/repository"
	emailDelivery "mailpilot-backend/internal/email/delivery"
	emailUsecase "mailpilot-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	r *gin.Engine,
	rootCtx context.Context,
	accountRepository accountRepo.AccountRepository,
	syncStateRepository accountRepo.SyncStateRepository,
	facade *emailUsecase.EmailFacade,
	orchestrator *emailUsecase.SyncOrchestrator,
) {
	accountHandler := accountDelivery.NewAccountHandler(accountRepository, syncStateRepository, orchestrator, rootCtx)
	emailHandler := emailDelivery.NewEmailHandler(facade, orchestrator)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Account routes
		accounts := api.Group("/accounts")
		{
			accounts.POST("", accountHandler.CreateAccount)
			accounts.GET("", accountHandler.ListAccounts)
			accounts.DELETE("/:accountId", accountHandler.DeleteAccount)
			accounts.PATCH("/:accountId/sync-enabled", accountHandler.SetSyncEnabled)

			// Email routes (metadata fast path + content/analysis lazy paths)
			accounts.GET("/:accountId/folders", emailHandler.ListFolders)
			accounts.GET("/:accountId/emails", emailHandler.ListEmails)
			accounts.GET("/:accountId/emails/:messageId/content", emailHandler.GetEmailContent)
			accounts.GET("/:accountId/emails/:messageId/analysis", emailHandler.GetEmailAnalysis)
			accounts.PATCH("/:accountId/emails/:messageId/flags", emailHandler.UpdateFlags)

			// Sync routes
			accounts.POST("/:accountId/sync", emailHandler.TriggerSync)
			accounts.GET("/:accountId/sync", emailHandler.GetSyncStatus)
		}
	}
}
