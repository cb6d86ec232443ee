package repository

import (
	"errors"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentCacheRepository is the short-TTL store of full message bodies.
// The mail server remains the source of truth; an expired row is a miss,
// never stale data.
type ContentCacheRepository interface {
	// Get returns (content, true, nil) on a hit. Absent and expired rows
	// both return found=false.
	Get(accountID, messageID string) (*emaildomain.FullContent, bool, error)
	// Put stores content with expiry = now + ttl, overwriting any existing
	// row for the message.
	Put(accountID string, content *emaildomain.FullContent, ttl time.Duration) error
	Invalidate(accountID, messageID string) error
	// SweepExpired deletes expired rows in one statement and reports how
	// many were removed. Safe to run alongside normal reads and writes.
	SweepExpired(now time.Time) (int64, error)
}

type contentCacheRepository struct {
	db *gorm.DB
}

// NewContentCacheRepository creates a new instance of contentCacheRepository
func NewContentCacheRepository(db *gorm.DB) ContentCacheRepository {
	return &contentCacheRepository{db: db}
}

func (r *contentCacheRepository) Get(accountID, messageID string) (*emaildomain.FullContent, bool, error) {
	var row emaildomain.CachedContent
	err := r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if row.Expired(time.Now()) {
		// Leave the row for the sweep; it will be overwritten on refetch.
		return nil, false, nil
	}
	return row.Content(), true, nil
}

func (r *contentCacheRepository) Put(accountID string, content *emaildomain.FullContent, ttl time.Duration) error {
	if accountID == "" || content == nil || content.MessageID == "" {
		return emaildomain.ErrValidation
	}

	now := time.Now()
	row := emaildomain.CachedContent{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		MessageID:   content.MessageID,
		Subject:     content.Subject,
		HTMLBody:    content.HTMLBody,
		TextBody:    content.TextBody,
		Attachments: content.Attachments,
		FetchedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "html_body", "text_body", "attachments", "fetched_at", "expires_at",
		}),
	}).Create(&row).Error
}

func (r *contentCacheRepository) Invalidate(accountID, messageID string) error {
	return r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).
		Delete(&emaildomain.CachedContent{}).Error
}

func (r *contentCacheRepository) SweepExpired(now time.Time) (int64, error) {
	result := r.db.Where("expires_at <= ?", now).Delete(&emaildomain.CachedContent{})
	return result.RowsAffected, result.Error
}
