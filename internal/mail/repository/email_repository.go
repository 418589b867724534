package repository

import (
	"errors"
	"time"

	maildomain "mailpilot-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmailRepository persists processed emails. Rows are written exclusively
// by the sync orchestrator.
type EmailRepository interface {
	// Upsert inserts or updates by (account_id, external_id); sync must
	// never duplicate a message.
	Upsert(email *maildomain.Email) error
	FindByExternalID(accountID, externalID string) (*maildomain.Email, error)
	ListByAccount(accountID string, limit int) ([]*maildomain.Email, error)
	// DeleteTrashedBefore removes delete-actioned emails processed before
	// the cutoff (retention job).
	DeleteTrashedBefore(cutoff time.Time) (int64, error)
}

// emailRepository implements EmailRepository interface
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new instance of emailRepository
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) Upsert(email *maildomain.Email) error {
	now := time.Now()
	if email.ID == "" {
		email.ID = uuid.New().String()
		email.CreatedAt = now
	}
	email.UpdatedAt = now
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "sender", "recipient", "received_at", "clean_body",
			"category", "sentiment", "priority",
			"suggested_actions", "actions_taken", "processed_at", "updated_at",
		}),
	}).Create(email).Error
}

func (r *emailRepository) FindByExternalID(accountID, externalID string) (*maildomain.Email, error) {
	var email maildomain.Email
	err := r.db.Where("account_id = ? AND external_id = ?", accountID, externalID).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) ListByAccount(accountID string, limit int) ([]*maildomain.Email, error) {
	var emails []*maildomain.Email
	q := r.db.Where("account_id = ?", accountID).Order("received_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&emails).Error
	return emails, err
}

func (r *emailRepository) DeleteTrashedBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("actions_taken LIKE ? AND processed_at < ?", "%"+maildomain.ActionDelete+"%", cutoff).
		Delete(&maildomain.Email{})
	return res.RowsAffected, res.Error
}
