package repository

import (
	"errors"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalysisCacheRepository stores AI-derived results with a TTL independent
// of the content cache: analysis is expensive to produce, so it outlives
// the raw bodies, and invalidating content never forces re-analysis.
type AnalysisCacheRepository interface {
	Get(accountID, messageID string) (*emaildomain.AnalysisResult, bool, error)
	// GetMany returns non-expired results keyed by message id.
	GetMany(accountID string, messageIDs []string) (map[string]emaildomain.AnalysisResult, error)
	// Put overwrites any previous result for the message (last writer
	// wins), so duplicate background runs never accumulate rows.
	Put(result *emaildomain.AnalysisResult, ttl time.Duration) error
	Invalidate(accountID, messageID string) error
	SweepExpired(now time.Time) (int64, error)
}

type analysisCacheRepository struct {
	db *gorm.DB
}

// NewAnalysisCacheRepository creates a new instance of analysisCacheRepository
func NewAnalysisCacheRepository(db *gorm.DB) AnalysisCacheRepository {
	return &analysisCacheRepository{db: db}
}

func (r *analysisCacheRepository) Get(accountID, messageID string) (*emaildomain.AnalysisResult, bool, error) {
	var row emaildomain.AnalysisResult
	err := r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if row.Expired(time.Now()) {
		return nil, false, nil
	}
	return &row, true, nil
}

func (r *analysisCacheRepository) GetMany(accountID string, messageIDs []string) (map[string]emaildomain.AnalysisResult, error) {
	results := make(map[string]emaildomain.AnalysisResult, len(messageIDs))
	if len(messageIDs) == 0 {
		return results, nil
	}

	var rows []emaildomain.AnalysisResult
	err := r.db.Where("account_id = ? AND message_id IN ? AND expires_at > ?",
		accountID, messageIDs, time.Now()).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		results[row.MessageID] = row
	}
	return results, nil
}

func (r *analysisCacheRepository) Put(result *emaildomain.AnalysisResult, ttl time.Duration) error {
	if result == nil || result.AccountID == "" || result.MessageID == "" {
		return emaildomain.ErrValidation
	}
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.GeneratedAt.IsZero() {
		result.GeneratedAt = time.Now()
	}
	result.ExpiresAt = result.GeneratedAt.Add(ttl)

	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"category", "priority", "sentiment", "draft_reply", "confidence",
			"model_used", "generated_at", "expires_at",
		}),
	}).Create(result).Error
}

func (r *analysisCacheRepository) Invalidate(accountID, messageID string) error {
	return r.db.Where("account_id = ? AND message_id = ?", accountID, messageID).
		Delete(&emaildomain.AnalysisResult{}).Error
}

func (r *analysisCacheRepository) SweepExpired(now time.Time) (int64, error) {
	result := r.db.Where("expires_at <= ?", now).Delete(&emaildomain.AnalysisResult{})
	return result.RowsAffected, result.Error
}
