package domain

import "time"

// Provider identifiers for connected mailboxes
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// Sync status values stored on the account after each run
const (
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// EmailAccount is a connected mailbox for a user. Access and refresh tokens
// are stored as vault ciphertext blobs, never plaintext.
type EmailAccount struct {
	ID           string `json:"id" gorm:"primaryKey"`
	UserID       string `json:"user_id" gorm:"index;not null"`
	Provider     string `json:"provider" gorm:"not null"` // "gmail" or "outlook"
	EmailAddress string `json:"email_address" gorm:"index;not null"`

	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Scopes         string     `json:"scopes"`

	IsActive bool `json:"is_active" gorm:"default:true"`

	// LastSyncedAt is the sync checkpoint: the provider-native timestamp of
	// the newest message this account has successfully processed. It only
	// ever moves forward.
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
	SyncStartDate    *time.Time `json:"sync_start_date,omitempty"`
	MaxEmailsPerSync int        `json:"max_emails_per_sync" gorm:"default:50"`

	LastSyncStatus string     `json:"last_sync_status"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError  string     `json:"last_sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveSince returns the lower bound of the next candidate window:
// the checkpoint when one exists, otherwise the configured window start.
func (a *EmailAccount) EffectiveSince() *time.Time {
	if a.LastSyncedAt != nil {
		return a.LastSyncedAt
	}
	return a.SyncStartDate
}
