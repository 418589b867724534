package domain

import "time"

// Classification enums produced by the classifier collaborator.
const (
	CategoryImportant  = "important"
	CategoryPersonal   = "personal"
	CategoryWork       = "work"
	CategoryNewsletter = "newsletter"
	CategoryPromotion  = "promotion"
	CategorySpam       = "spam"

	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Email is a processed message persisted by the sync run.
// (account_id, external_id) is unique: sync upserts, never duplicates.
type Email struct {
	ID         string `json:"id" gorm:"primaryKey"`
	AccountID  string `json:"account_id" gorm:"uniqueIndex:idx_account_external;not null"`
	ExternalID string `json:"external_id" gorm:"uniqueIndex:idx_account_external;not null"`

	Subject    string    `json:"subject"`
	Sender     string    `json:"sender" gorm:"index"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"received_at" gorm:"index"`

	CleanBody string `json:"clean_body" gorm:"type:text"`

	Category  string `json:"category"`
	Sentiment string `json:"sentiment"`
	Priority  string `json:"priority"`

	SuggestedActions string `json:"suggested_actions"` // comma-joined, rule order
	ActionsTaken     string `json:"actions_taken"`     // comma-joined, execution order

	ProcessedAt time.Time `json:"processed_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SenderDomain returns the part of the sender address after the last '@'.
func (e *Email) SenderDomain() string {
	for i := len(e.Sender) - 1; i >= 0; i-- {
		if e.Sender[i] == '@' {
			d := e.Sender[i+1:]
			// Strip a trailing '>' from "Name <user@host>" style senders.
			if n := len(d); n > 0 && d[n-1] == '>' {
				d = d[:n-1]
			}
			return d
		}
	}
	return ""
}
