package delivery

import (
	"context"
	"errors"
	"net/http"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	accountRepo   accountrepo.AccountRepository
	syncStateRepo accountrepo.SyncStateRepository
	orchestrator  *usecase.SyncOrchestrator
	rootCtx       context.Context
}

func NewAccountHandler(
	accountRepo accountrepo.AccountRepository,
	syncStateRepo accountrepo.SyncStateRepository,
	orchestrator *usecase.SyncOrchestrator,
	rootCtx context.Context,
) *AccountHandler {
	return &AccountHandler{
		accountRepo:   accountRepo,
		syncStateRepo: syncStateRepo,
		orchestrator:  orchestrator,
		rootCtx:       rootCtx,
	}
}

type createAccountRequest struct {
	EmailAddress  string `json:"email_address" binding:"required"`
	TransportKind string `json:"transport_kind" binding:"required"`
	IMAPHost      string `json:"imap_host"`
	IMAPPort      string `json:"imap_port"`
	IMAPUsername  string `json:"imap_username"`
	IMAPPassword  string `json:"imap_password"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch emaildomain.TransportKind(req.TransportKind) {
	case emaildomain.TransportGmail, emaildomain.TransportIMAP:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported transport kind"})
		return
	}

	account := &accountdomain.Account{
		EmailAddress:  req.EmailAddress,
		TransportKind: req.TransportKind,
		IMAPHost:      req.IMAPHost,
		IMAPPort:      req.IMAPPort,
		IMAPUsername:  req.IMAPUsername,
		IMAPPassword:  req.IMAPPassword,
		AccessToken:   req.AccessToken,
		RefreshToken:  req.RefreshToken,
	}
	if err := h.accountRepo.Create(account); err != nil {
		if errors.Is(err, emaildomain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.syncStateRepo.EnsureForAccount(account.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// New account gets its sync loop immediately.
	h.orchestrator.StartAccount(h.rootCtx, account.ID)

	c.JSON(http.StatusCreated, account)
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountRepo.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	accountID := c.Param("accountId")

	h.orchestrator.StopAccount(accountID)

	if err := h.accountRepo.Delete(accountID); err != nil {
		if errors.Is(err, emaildomain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}

type setSyncEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetSyncEnabled re-arms an errored account (or pauses a healthy one).
func (h *AccountHandler) SetSyncEnabled(c *gin.Context) {
	accountID := c.Param("accountId")

	var req setSyncEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.syncStateRepo.SetEnabled(accountID, *req.Enabled); err != nil {
		if errors.Is(err, emaildomain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if *req.Enabled {
		h.orchestrator.Trigger(accountID)
	}

	c.JSON(http.StatusOK, gin.H{"message": "sync setting updated"})
}
