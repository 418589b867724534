package domain

import (
	"strings"
	"time"
)

// Rule condition fields
const (
	FieldCategory        = "category"
	FieldSentiment       = "sentiment"
	FieldPriority        = "priority"
	FieldSender          = "sender"
	FieldSenderDomain    = "sender_domain"
	FieldSenderContains  = "sender_contains"
	FieldSubjectContains = "subject_contains"
	FieldBodyContains    = "body_contains"
)

// Rule actions
const (
	ActionArchive = "archive"
	ActionDelete  = "delete"
	ActionDraft   = "draft"
	ActionStar    = "star"
	ActionRead    = "read"
)

// Rule is a user-defined automation: a predicate over a classified message
// plus an ordered list of actions to take when it matches.
type Rule struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"user_id" gorm:"index;not null"`

	Name  string `json:"name"`
	Field string `json:"field" gorm:"not null"`
	Value string `json:"value" gorm:"not null"`

	// OlderThanDays, when set, restricts the rule to messages at least
	// this many days old at evaluation time.
	OlderThanDays *int `json:"older_than_days,omitempty"`

	Actions   string `json:"actions" gorm:"not null"` // comma-joined, ordered
	IsEnabled bool   `json:"is_enabled" gorm:"default:true"`

	// Instructions and Attachments feed the draft-generation call and are
	// only meaningful when Actions contains "draft".
	Instructions string `json:"instructions,omitempty" gorm:"type:text"`
	Attachments  string `json:"attachments,omitempty" gorm:"type:text"` // JSON file refs

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActionList splits the stored action string, preserving order and
// dropping empty entries.
func (r *Rule) ActionList() []string {
	var out []string
	for _, a := range strings.Split(r.Actions, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Matches reports whether the rule's full condition holds for the email.
// Evaluation is pure; comparisons on metadata fields are case-insensitive.
func (r *Rule) Matches(email *Email, now time.Time) bool {
	if r.OlderThanDays != nil {
		age := now.Sub(email.ReceivedAt)
		if age < time.Duration(*r.OlderThanDays)*24*time.Hour {
			return false
		}
	}

	value := strings.ToLower(strings.TrimSpace(r.Value))
	switch r.Field {
	case FieldCategory:
		return strings.EqualFold(email.Category, value)
	case FieldSentiment:
		return strings.EqualFold(email.Sentiment, value)
	case FieldPriority:
		return strings.EqualFold(email.Priority, value)
	case FieldSender:
		return strings.EqualFold(strings.TrimSpace(email.Sender), value)
	case FieldSenderDomain:
		return strings.EqualFold(email.SenderDomain(), value)
	case FieldSenderContains:
		return strings.Contains(strings.ToLower(email.Sender), value)
	case FieldSubjectContains:
		return strings.Contains(strings.ToLower(email.Subject), value)
	case FieldBodyContains:
		return strings.Contains(strings.ToLower(email.CleanBody), value)
	}
	return false
}
