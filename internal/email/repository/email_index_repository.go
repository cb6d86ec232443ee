package repository

import (
	"errors"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListOptions controls index listing. Text queries match subject, sender
// and preview; they never touch bodies, which the index does not hold.
// MinPriority filters on the cached analysis priority ("high" or "medium");
// messages without a fresh analysis are excluded by that filter.
type ListOptions struct {
	Limit       int
	Offset      int
	UnreadOnly  bool
	Query       string
	MinPriority string
}

// priorityAtLeast expands a minimum priority into the accepted set.
func priorityAtLeast(min string) []string {
	switch min {
	case "high":
		return []string{"high"}
	case "medium":
		return []string{"high", "medium"}
	default:
		return []string{"high", "medium", "low"}
	}
}

// EmailIndexRepository is the metadata index: the durable source of truth
// for listing, search and filtering. It is always served locally and never
// blocks on the mail transport.
type EmailIndexRepository interface {
	// Upsert is an idempotent insert-or-update keyed by (account, message).
	Upsert(record *emaildomain.EmailRecord) error
	// List returns records newest first. An unknown account yields an empty
	// page rather than an error; the fast path must not fail on bootstrap
	// races.
	List(accountID, folder string, opts ListOptions) ([]emaildomain.EmailRecord, int64, error)
	GetByMessageID(accountID, messageID string) (*emaildomain.EmailRecord, error)
	// UpdateFlags applies a partial flag update without rewriting the row.
	UpdateFlags(accountID, messageID string, patch emaildomain.FlagPatch) error
	Delete(accountID, messageID string) error
	// RecentCandidates returns the most recent records in folder that lack
	// a non-expired analysis result, bounded by window.
	RecentCandidates(accountID, folder string, window int, now time.Time) ([]emaildomain.EmailRecord, error)
}

type emailIndexRepository struct {
	db *gorm.DB
}

// NewEmailIndexRepository creates a new instance of emailIndexRepository
func NewEmailIndexRepository(db *gorm.DB) EmailIndexRepository {
	return &emailIndexRepository{db: db}
}

func (r *emailIndexRepository) Upsert(record *emaildomain.EmailRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if runes := []rune(record.Preview); len(runes) > emaildomain.PreviewMaxLen {
		record.Preview = string(runes[:emaildomain.PreviewMaxLen])
	}

	// Atomic upsert on the composite key; concurrent syncs observing the
	// same message linearize to last-write-wins.
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"folder", "sender_address", "sender_name", "subject", "preview",
			"received_at", "is_read", "is_flagged", "is_answered",
			"has_attachments", "size_estimate", "is_bulk", "updated_at",
		}),
	}).Create(record).Error
}

func (r *emailIndexRepository) List(accountID, folder string, opts ListOptions) ([]emaildomain.EmailRecord, int64, error) {
	if accountID == "" {
		return nil, 0, emaildomain.ErrValidation
	}

	query := r.db.Model(&emaildomain.EmailRecord{}).Where("email_index.account_id = ?", accountID)
	if folder != "" {
		query = query.Where("email_index.folder = ?", folder)
	}
	if opts.UnreadOnly {
		query = query.Where("email_index.is_read = ?", false)
	}
	if opts.Query != "" {
		like := "%" + opts.Query + "%"
		query = query.Where(
			"email_index.subject LIKE ? OR email_index.sender_address LIKE ? OR email_index.sender_name LIKE ? OR email_index.preview LIKE ?",
			like, like, like, like,
		)
	}
	if opts.MinPriority != "" {
		// Priority lives in the analysis cache; the filter only sees
		// messages whose analysis has not expired yet.
		query = query.
			Joins(`INNER JOIN analysis_cache ON analysis_cache.account_id = email_index.account_id
				AND analysis_cache.message_id = email_index.message_id
				AND analysis_cache.expires_at > ?`, time.Now()).
			Where("analysis_cache.priority IN ?", priorityAtLeast(opts.MinPriority))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var records []emaildomain.EmailRecord
	err := query.Order("email_index.received_at DESC").Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *emailIndexRepository) GetByMessageID(accountID, messageID string) (*emaildomain.EmailRecord, error) {
	var record emaildomain.EmailRecord
	err := r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, emaildomain.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *emailIndexRepository) UpdateFlags(accountID, messageID string, patch emaildomain.FlagPatch) error {
	if accountID == "" || messageID == "" {
		return emaildomain.ErrValidation
	}
	if patch.Empty() {
		return nil
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if patch.Read != nil {
		updates["is_read"] = *patch.Read
	}
	if patch.Flagged != nil {
		updates["is_flagged"] = *patch.Flagged
	}
	if patch.Answered != nil {
		updates["is_answered"] = *patch.Answered
	}

	result := r.db.Model(&emaildomain.EmailRecord{}).
		Where("account_id = ? AND message_id = ?", accountID, messageID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return emaildomain.ErrNotFound
	}
	return nil
}

func (r *emailIndexRepository) Delete(accountID, messageID string) error {
	return r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).
		Delete(&emaildomain.EmailRecord{}).Error
}

func (r *emailIndexRepository) RecentCandidates(accountID, folder string, window int, now time.Time) ([]emaildomain.EmailRecord, error) {
	if window <= 0 {
		return nil, nil
	}

	var records []emaildomain.EmailRecord
	err := r.db.Model(&emaildomain.EmailRecord{}).
		Joins(`LEFT JOIN analysis_cache ON analysis_cache.account_id = email_index.account_id
			AND analysis_cache.message_id = email_index.message_id
			AND analysis_cache.expires_at > ?`, now).
		Where("email_index.account_id = ? AND email_index.folder = ?", accountID, folder).
		Where("analysis_cache.id IS NULL").
		Order("email_index.received_at DESC").
		Limit(window).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
