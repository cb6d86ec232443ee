package repository

import (
	"errors"
	"fmt"

	accountdomain "mailpilot-backend/internal/account/domain"
	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for account operations
type AccountRepository interface {
	Create(account *accountdomain.Account) error
	GetByID(id string) (*accountdomain.Account, error)
	GetByEmail(email string) (*accountdomain.Account, error)
	List() ([]accountdomain.Account, error)
	UpdateTokens(id, accessToken, refreshToken string) error
	// Delete removes the account and cascades its index rows and cache
	// entries in one transaction.
	Delete(id string) error
}

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of accountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *accountdomain.Account) error {
	if account.EmailAddress == "" || account.TransportKind == "" {
		return fmt.Errorf("%w: email address and transport kind are required", emaildomain.ErrValidation)
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	return r.db.Create(account).Error
}

func (r *accountRepository) GetByID(id string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, emaildomain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByEmail(email string) (*accountdomain.Account, error) {
	var account accountdomain.Account
	err := r.db.Where("email_address = ?", email).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, emaildomain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) List() ([]accountdomain.Account, error) {
	var accounts []accountdomain.Account
	if err := r.db.Order("created_at").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateTokens persists a refreshed OAuth token pair. Column-limited so it
// cannot race with other account field updates.
func (r *accountRepository) UpdateTokens(id, accessToken, refreshToken string) error {
	updates := map[string]interface{}{"access_token": accessToken}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	result := r.db.Model(&accountdomain.Account{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return emaildomain.ErrNotFound
	}
	return nil
}

func (r *accountRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&emaildomain.EmailRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&emaildomain.CachedContent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&emaildomain.AnalysisResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", id).Delete(&accountdomain.SyncState{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&accountdomain.Account{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return emaildomain.ErrNotFound
		}
		return nil
	})
}
