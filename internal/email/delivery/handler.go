package delivery

import (
	"errors"
	"net/http"
	"strconv"

	emaildomain "mailpilot-backend/internal/email/domain"
	emaildto "mailpilot-backend/internal/email/dto"
	emailrepo "mailpilot-backend/internal/email/repository"
	"mailpilot-backend/internal/email/usecase"

	"github.com/gin-gonic/gin"
)

type EmailHandler struct {
	facade       *usecase.EmailFacade
	orchestrator *usecase.SyncOrchestrator
}

func NewEmailHandler(facade *usecase.EmailFacade, orchestrator *usecase.SyncOrchestrator) *EmailHandler {
	return &EmailHandler{
		facade:       facade,
		orchestrator: orchestrator,
	}
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, emaildomain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, emaildomain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, emaildomain.ErrAuthExpired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":  "mail server credentials expired",
			"action": "reconnect_account",
		})
	case errors.Is(err, emaildomain.ErrTransient):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrSyncBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *EmailHandler) ListEmails(c *gin.Context) {
	accountID := c.Param("accountId")

	opts := emailrepo.ListOptions{Limit: 20}
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			opts.Limit = parsed
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			opts.Offset = parsed
		}
	}
	opts.UnreadOnly = c.Query("unread") == "true"
	opts.Query = c.Query("q")
	opts.MinPriority = c.Query("priority")

	emails, total, err := h.facade.ListEmails(accountID, c.Query("folder"), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.EmailsResponse{
		Emails: emails,
		Limit:  opts.Limit,
		Offset: opts.Offset,
		Total:  total,
	})
}

func (h *EmailHandler) ListFolders(c *gin.Context) {
	accountID := c.Param("accountId")

	folders, err := h.facade.ListFolders(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.FoldersResponse{Folders: folders})
}

func (h *EmailHandler) GetEmailContent(c *gin.Context) {
	accountID := c.Param("accountId")
	messageID := c.Param("messageId")

	content, err := h.facade.GetContent(c.Request.Context(), accountID, messageID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, content)
}

func (h *EmailHandler) GetEmailAnalysis(c *gin.Context) {
	accountID := c.Param("accountId")
	messageID := c.Param("messageId")
	enqueue := c.Query("enqueue") != "false"

	analysis, found, err := h.facade.GetAnalysis(accountID, messageID, enqueue)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.AnalysisResponse{
		Analysis: analysis,
		Pending:  !found,
	})
}

func (h *EmailHandler) UpdateFlags(c *gin.Context) {
	accountID := c.Param("accountId")
	messageID := c.Param("messageId")

	var patch emaildomain.FlagPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag patch"})
		return
	}

	record, err := h.facade.UpdateFlags(c.Request.Context(), accountID, messageID, patch)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *EmailHandler) TriggerSync(c *gin.Context) {
	accountID := c.Param("accountId")

	if h.orchestrator.Trigger(accountID) {
		c.JSON(http.StatusAccepted, gin.H{"message": "sync scheduled"})
		return
	}

	// No loop running for this account (e.g. created after startup); run one
	// cycle inline instead.
	if err := h.orchestrator.SyncNow(c.Request.Context(), accountID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sync completed"})
}

func (h *EmailHandler) GetSyncStatus(c *gin.Context) {
	accountID := c.Param("accountId")

	state, err := h.orchestrator.Status(accountID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.SyncStatusResponse{State: state})
}
