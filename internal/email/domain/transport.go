package domain

import "context"

// TransportKind selects the mail transport family for an account.
type TransportKind string

const (
	TransportGmail TransportKind = "gmail"
	TransportIMAP  TransportKind = "imap"
)

// TokenUpdateFunc persists refreshed OAuth tokens back to the account store.
type TokenUpdateFunc func(accessToken, refreshToken string) error

// Credentials is everything a transport needs to talk to one mailbox.
// Produced by the account layer; transports never load accounts themselves.
type Credentials struct {
	Kind     TransportKind
	Address  string
	Host     string
	Port     string
	Username string
	Password string

	AccessToken    string
	RefreshToken   string
	OnTokenRefresh TokenUpdateFunc
}

// Folder is a mailbox/label on the remote server.
type Folder struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Unread int    `json:"unread"`
}

// IncomingMessage is one message observed during a sync cycle. Content is
// non-nil when the transport already fetched the full body, so the sync
// path can pre-warm the content cache without a second round trip.
type IncomingMessage struct {
	Record  EmailRecord
	Content *FullContent
}

// MailTransport is the adapter interface over a mail protocol family.
// Implementations map protocol errors onto the domain taxonomy
// (ErrAuthExpired, ErrTransient, ErrNotFound).
type MailTransport interface {
	// ListFolders returns the account's folders.
	ListFolders(ctx context.Context, creds Credentials) ([]Folder, error)

	// FetchRecent returns messages in folder newer than the opaque cursor
	// (empty cursor = initial sync, bounded by limit) plus the new cursor.
	FetchRecent(ctx context.Context, creds Credentials, folder, cursor string, limit int) ([]IncomingMessage, string, error)

	// FetchByID retrieves one message's full body and attachment metadata.
	FetchByID(ctx context.Context, creds Credentials, folder, messageID string) (*FullContent, error)

	// ModifyFlags mirrors read/flagged/answered changes to the server.
	ModifyFlags(ctx context.Context, creds Credentials, folder, messageID string, patch FlagPatch) error
}
