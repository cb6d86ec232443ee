package dto

import (
	accountdomain "mailpilot-backend/internal/account/domain"
	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/internal/email/usecase"
)

// EmailsResponse is a page of the metadata index.
type EmailsResponse struct {
	Emails []usecase.EmailListItem `json:"emails"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
	Total  int64                   `json:"total"`
}

// FoldersResponse lists the account's folders.
type FoldersResponse struct {
	Folders []emaildomain.Folder `json:"folders"`
}

// AnalysisResponse wraps an analysis lookup; Pending is set when no fresh
// result exists yet.
type AnalysisResponse struct {
	Analysis *emaildomain.AnalysisResult `json:"analysis,omitempty"`
	Pending  bool                        `json:"pending"`
}

// SyncStatusResponse reports an account's sync state.
type SyncStatusResponse struct {
	State *accountdomain.SyncState `json:"state"`
}
