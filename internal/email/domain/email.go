package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PreviewMaxLen bounds the plain-text preview stored in the metadata index.
const PreviewMaxLen = 200

// EmailRecord is a lightweight metadata row in the email index. It never
// holds the full body; bodies live in the content cache and on the mail
// server itself.
type EmailRecord struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	AccountID      string    `json:"account_id" gorm:"uniqueIndex:idx_account_message;index:idx_account_folder;not null"`
	MessageID      string    `json:"message_id" gorm:"uniqueIndex:idx_account_message;not null"`
	Folder         string    `json:"folder" gorm:"index:idx_account_folder"`
	SenderAddress  string    `json:"sender_address"`
	SenderName     string    `json:"sender_name"`
	Subject        string    `json:"subject"`
	Preview        string    `json:"preview"`
	ReceivedAt     time.Time `json:"received_at" gorm:"index"`
	IsRead         bool      `json:"is_read"`
	IsFlagged      bool      `json:"is_flagged"`
	IsAnswered     bool      `json:"is_answered"`
	HasAttachments bool      `json:"has_attachments"`
	SizeEstimate   int64     `json:"size_estimate"`
	IsBulk         bool      `json:"is_bulk"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (EmailRecord) TableName() string {
	return "email_index"
}

// Validate rejects records with a malformed identity before they reach the index.
func (r *EmailRecord) Validate() error {
	if r.AccountID == "" || r.MessageID == "" {
		return fmt.Errorf("%w: account id and message id are required", ErrValidation)
	}
	return nil
}

// Attachment is attachment metadata only; attachment bytes are always
// fetched from the transport on demand.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// AttachmentList is stored as a JSON column in the content cache.
type AttachmentList []Attachment

func (a AttachmentList) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (a *AttachmentList) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("cannot scan %T into AttachmentList", value)
	}
}

// FullContent is a complete message body as fetched from the mail transport.
type FullContent struct {
	MessageID   string         `json:"message_id"`
	Subject     string         `json:"subject"`
	HTMLBody    string         `json:"html_body"`
	TextBody    string         `json:"text_body"`
	Attachments AttachmentList `json:"attachments"`
}

// Body returns the best text for AI analysis: plain text when available,
// raw HTML otherwise.
func (c *FullContent) Body() string {
	if c.TextBody != "" {
		return c.TextBody
	}
	return c.HTMLBody
}

// CachedContent is a content cache row. A row whose expiry has passed is
// logically absent and must never be served.
type CachedContent struct {
	ID          string         `json:"id" gorm:"primaryKey"`
	AccountID   string         `json:"account_id" gorm:"uniqueIndex:idx_content_account_message;not null"`
	MessageID   string         `json:"message_id" gorm:"uniqueIndex:idx_content_account_message;not null"`
	Subject     string         `json:"subject"`
	HTMLBody    string         `json:"html_body" gorm:"type:text"`
	TextBody    string         `json:"text_body" gorm:"type:text"`
	Attachments AttachmentList `json:"attachments" gorm:"type:text"`
	FetchedAt   time.Time      `json:"fetched_at"`
	ExpiresAt   time.Time      `json:"expires_at" gorm:"index"`
}

// TableName specifies the table name for GORM
func (CachedContent) TableName() string {
	return "content_cache"
}

func (c *CachedContent) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Content converts the cache row back to a FullContent.
func (c *CachedContent) Content() *FullContent {
	return &FullContent{
		MessageID:   c.MessageID,
		Subject:     c.Subject,
		HTMLBody:    c.HTMLBody,
		TextBody:    c.TextBody,
		Attachments: c.Attachments,
	}
}

// AnalysisResult stores AI-derived results for a message. At most one
// non-expired row exists per (account, message); writes overwrite.
type AnalysisResult struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	AccountID   string    `json:"account_id" gorm:"uniqueIndex:idx_analysis_account_message;not null"`
	MessageID   string    `json:"message_id" gorm:"uniqueIndex:idx_analysis_account_message;not null"`
	Category    string    `json:"category"`
	Priority    string    `json:"priority"`
	Sentiment   string    `json:"sentiment"`
	DraftReply  string    `json:"draft_reply" gorm:"type:text"`
	Confidence  float64   `json:"confidence"`
	ModelUsed   string    `json:"model_used"`
	GeneratedAt time.Time `json:"generated_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"index"`
}

// TableName specifies the table name for GORM
func (AnalysisResult) TableName() string {
	return "analysis_cache"
}

func (a *AnalysisResult) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

// FlagPatch is a partial flag update; nil fields are left untouched.
type FlagPatch struct {
	Read     *bool `json:"read,omitempty"`
	Flagged  *bool `json:"flagged,omitempty"`
	Answered *bool `json:"answered,omitempty"`
}

func (p FlagPatch) Empty() bool {
	return p.Read == nil && p.Flagged == nil && p.Answered == nil
}
