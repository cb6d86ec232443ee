package domain

import (
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"
)

// Account is a registered mailbox. Authentication itself happens outside
// this service; we only hold the material needed to reach the transport.
type Account struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	EmailAddress  string    `json:"email_address" gorm:"uniqueIndex;not null"`
	TransportKind string    `json:"transport_kind" gorm:"not null"`
	IMAPHost      string    `json:"imap_host,omitempty"`
	IMAPPort      string    `json:"imap_port,omitempty"`
	IMAPUsername  string    `json:"-"`
	IMAPPassword  string    `json:"-"`
	AccessToken   string    `json:"-"`
	RefreshToken  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Credentials builds transport credentials for this account. onTokenRefresh
// is invoked when the oauth2 layer rotates tokens so the new pair gets
// persisted.
func (a *Account) Credentials(onTokenRefresh emaildomain.TokenUpdateFunc) emaildomain.Credentials {
	return emaildomain.Credentials{
		Kind:           emaildomain.TransportKind(a.TransportKind),
		Address:        a.EmailAddress,
		Host:           a.IMAPHost,
		Port:           a.IMAPPort,
		Username:       a.IMAPUsername,
		Password:       a.IMAPPassword,
		AccessToken:    a.AccessToken,
		RefreshToken:   a.RefreshToken,
		OnTokenRefresh: onTokenRefresh,
	}
}

// Sync lifecycle states. Transitions: Idle -> Syncing -> (Idle | Errored).
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusErrored = "errored"
)

// SyncState is the per-account sync record. The lock token and its expiry
// implement a lease so multiple server instances cannot run overlapping
// sync cycles for the same account, and a crashed instance cannot wedge the
// account forever.
type SyncState struct {
	ID            string     `json:"id" gorm:"primaryKey"`
	AccountID     string     `json:"account_id" gorm:"uniqueIndex;not null"`
	Status        string     `json:"status" gorm:"default:idle"`
	LastCursor    string     `json:"last_cursor"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	LastError     string     `json:"last_error"`
	SyncEnabled   bool       `json:"sync_enabled" gorm:"default:true"`
	LockToken     string     `json:"-"`
	LockExpiresAt *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (SyncState) TableName() string {
	return "sync_states"
}
