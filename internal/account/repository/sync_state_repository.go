package repository

import (
	"errors"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStateRepository owns the per-account sync state machine rows and the
// lease that guarantees at most one active sync per account.
type SyncStateRepository interface {
	EnsureForAccount(accountID string) (*accountdomain.SyncState, error)
	Get(accountID string) (*accountdomain.SyncState, error)
	// AcquireLock attempts the Idle -> Syncing transition. It returns a
	// lease token on success and ("", nil) when another sync holds the
	// lease; losing the race is not an error.
	AcquireLock(accountID string, ttl time.Duration) (string, error)
	// ReleaseSuccess completes a cycle: Syncing -> Idle with a new cursor.
	ReleaseSuccess(accountID, token, cursor string) error
	// ReleaseTransient records a retryable failure: Syncing -> Idle.
	ReleaseTransient(accountID, token, errMsg string) error
	// MarkErrored records a fatal failure: Syncing -> Errored and disables
	// further automatic cycles until SetEnabled re-arms the account.
	MarkErrored(accountID, token, errMsg string) error
	SetEnabled(accountID string, enabled bool) error
}

type syncStateRepository struct {
	db *gorm.DB
}

// NewSyncStateRepository creates a new instance of syncStateRepository
func NewSyncStateRepository(db *gorm.DB) SyncStateRepository {
	return &syncStateRepository{db: db}
}

func (r *syncStateRepository) EnsureForAccount(accountID string) (*accountdomain.SyncState, error) {
	var state accountdomain.SyncState
	result := r.db.Where("account_id = ?", accountID).FirstOrCreate(&state, accountdomain.SyncState{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Status:      accountdomain.SyncStatusIdle,
		SyncEnabled: true,
	})
	if result.Error != nil {
		return nil, result.Error
	}
	return &state, nil
}

func (r *syncStateRepository) Get(accountID string) (*accountdomain.SyncState, error) {
	var state accountdomain.SyncState
	err := r.db.Where("account_id = ?", accountID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, emaildomain.ErrNotFound
		}
		return nil, err
	}
	return &state, nil
}

// AcquireLock is a single conditional UPDATE, so two concurrent callers can
// never both win: the row only transitions when it is not Syncing, or when
// a previous holder's lease expired (crashed instance).
func (r *syncStateRepository) AcquireLock(accountID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	now := time.Now()
	expires := now.Add(ttl)

	result := r.db.Model(&accountdomain.SyncState{}).
		Where("account_id = ? AND sync_enabled = ?", accountID, true).
		Where("status <> ? OR lock_expires_at IS NULL OR lock_expires_at < ?", accountdomain.SyncStatusSyncing, now).
		Updates(map[string]interface{}{
			"status":          accountdomain.SyncStatusSyncing,
			"lock_token":      token,
			"lock_expires_at": expires,
		})
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", nil
	}
	return token, nil
}

func (r *syncStateRepository) ReleaseSuccess(accountID, token, cursor string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":          accountdomain.SyncStatusIdle,
		"last_synced_at":  now,
		"last_error":      "",
		"lock_token":      "",
		"lock_expires_at": nil,
	}
	if cursor != "" {
		updates["last_cursor"] = cursor
	}
	return r.release(accountID, token, updates)
}

func (r *syncStateRepository) ReleaseTransient(accountID, token, errMsg string) error {
	return r.release(accountID, token, map[string]interface{}{
		"status":          accountdomain.SyncStatusIdle,
		"last_error":      errMsg,
		"lock_token":      "",
		"lock_expires_at": nil,
	})
}

func (r *syncStateRepository) MarkErrored(accountID, token, errMsg string) error {
	return r.release(accountID, token, map[string]interface{}{
		"status":          accountdomain.SyncStatusErrored,
		"last_error":      errMsg,
		"sync_enabled":    false,
		"lock_token":      "",
		"lock_expires_at": nil,
	})
}

// release only applies when the caller still holds the lease token, so a
// cycle that outlived its lease cannot clobber a newer holder's state.
func (r *syncStateRepository) release(accountID, token string, updates map[string]interface{}) error {
	return r.db.Model(&accountdomain.SyncState{}).
		Where("account_id = ? AND lock_token = ?", accountID, token).
		Updates(updates).Error
}

func (r *syncStateRepository) SetEnabled(accountID string, enabled bool) error {
	updates := map[string]interface{}{"sync_enabled": enabled}
	if enabled {
		updates["status"] = accountdomain.SyncStatusIdle
		updates["last_error"] = ""
	}
	result := r.db.Model(&accountdomain.SyncState{}).
		Where("account_id = ?", accountID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return emaildomain.ErrNotFound
	}
	return nil
}
