package domain

import "time"

// UserSettings holds per-user sync preferences and optional bring-your-own
// OAuth credentials. BYO client secrets are vault-encrypted at rest.
type UserSettings struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"uniqueIndex;not null"`

	SyncIntervalMinutes int  `json:"sync_interval_minutes" gorm:"default:15"`
	AutoClassify        bool `json:"auto_classify" gorm:"default:true"`
	AutoDraftReplies    bool `json:"auto_draft_replies" gorm:"default:true"`

	GoogleClientID        string `json:"google_client_id,omitempty"`
	GoogleClientSecret    string `json:"-"`
	MicrosoftClientID     string `json:"microsoft_client_id,omitempty"`
	MicrosoftClientSecret string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings applied to users who never saved any.
func DefaultSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:              userID,
		SyncIntervalMinutes: 15,
		AutoClassify:        true,
		AutoDraftReplies:    true,
	}
}
