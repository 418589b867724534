package domain

import "time"

// ProcessingLog statuses
const (
	LogStatusRunning = "running"
	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"
)

// ProcessingEvent kinds
const (
	EventInfo     = "info"
	EventAnalysis = "analysis"
	EventAction   = "action"
	EventError    = "error"
)

// ProcessingLog is one row per sync run. AccountID is nil for global
// scheduler runs. A log is created at run start and closed once at run end.
type ProcessingLog struct {
	ID        string  `json:"id" gorm:"primaryKey"`
	AccountID *string `json:"account_id,omitempty" gorm:"index"`
	UserID    string  `json:"user_id" gorm:"index"`

	Status    string     `json:"status" gorm:"not null"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	EmailsProcessed int `json:"emails_processed"`
	EmailsDeleted   int `json:"emails_deleted"`
	DraftsCreated   int `json:"drafts_created"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessingEvent is an append-only trace entry tied to a run. Writing
// events is best-effort: a failed write never fails the run.
type ProcessingEvent struct {
	ID      string  `json:"id" gorm:"primaryKey"`
	LogID   string  `json:"log_id" gorm:"index;not null"`
	EmailID *string `json:"email_id,omitempty" gorm:"index"`

	Kind    string `json:"kind" gorm:"not null"` // info, analysis, action, error
	Message string `json:"message" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}
