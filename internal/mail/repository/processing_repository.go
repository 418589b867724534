package repository

import (
	"errors"
	"log"
	"time"

	maildomain "mailpilot-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProcessingRepository persists run logs and their trace events.
type ProcessingRepository interface {
	CreateLog(plog *maildomain.ProcessingLog) error
	CloseLog(plog *maildomain.ProcessingLog) error
	// LastSuccessfulSync returns when the user's most recent successful run
	// ended, or nil if there has never been one.
	LastSuccessfulSync(userID string) (*time.Time, error)
	ListLogsByUser(userID string, limit int) ([]*maildomain.ProcessingLog, error)
	DeleteLogsBefore(cutoff time.Time) (int64, error)

	// AddEvent appends a trace event. It is best-effort by contract: the
	// missing error return makes the non-fatal policy explicit, a write
	// failure is logged and swallowed.
	AddEvent(logID string, emailID *string, kind, message string)
}

// processingRepository implements ProcessingRepository interface
type processingRepository struct {
	db *gorm.DB
}

// NewProcessingRepository creates a new instance of processingRepository
func NewProcessingRepository(db *gorm.DB) ProcessingRepository {
	return &processingRepository{db: db}
}

func (r *processingRepository) CreateLog(plog *maildomain.ProcessingLog) error {
	if plog.ID == "" {
		plog.ID = uuid.New().String()
	}
	if plog.Status == "" {
		plog.Status = maildomain.LogStatusRunning
	}
	if plog.StartedAt.IsZero() {
		plog.StartedAt = time.Now()
	}
	plog.CreatedAt = time.Now()
	plog.UpdatedAt = time.Now()
	return r.db.Create(plog).Error
}

func (r *processingRepository) CloseLog(plog *maildomain.ProcessingLog) error {
	now := time.Now()
	if plog.EndedAt == nil {
		plog.EndedAt = &now
	}
	plog.UpdatedAt = now
	return r.db.Save(plog).Error
}

func (r *processingRepository) LastSuccessfulSync(userID string) (*time.Time, error) {
	var plog maildomain.ProcessingLog
	err := r.db.Where("user_id = ? AND status = ?", userID, maildomain.LogStatusSuccess).
		Order("ended_at DESC").First(&plog).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return plog.EndedAt, nil
}

func (r *processingRepository) ListLogsByUser(userID string, limit int) ([]*maildomain.ProcessingLog, error) {
	var logs []*maildomain.ProcessingLog
	q := r.db.Where("user_id = ?", userID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&logs).Error
	return logs, err
}

func (r *processingRepository) DeleteLogsBefore(cutoff time.Time) (int64, error) {
	var logIDs []string
	if err := r.db.Model(&maildomain.ProcessingLog{}).
		Where("started_at < ?", cutoff).Pluck("id", &logIDs).Error; err != nil {
		return 0, err
	}
	if len(logIDs) == 0 {
		return 0, nil
	}
	if err := r.db.Where("log_id IN ?", logIDs).Delete(&maildomain.ProcessingEvent{}).Error; err != nil {
		return 0, err
	}
	res := r.db.Where("id IN ?", logIDs).Delete(&maildomain.ProcessingLog{})
	return res.RowsAffected, res.Error
}

func (r *processingRepository) AddEvent(logID string, emailID *string, kind, message string) {
	event := &maildomain.ProcessingEvent{
		ID:        uuid.New().String(),
		LogID:     logID,
		EmailID:   emailID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(event).Error; err != nil {
		// An observability failure must never become a functional failure.
		log.Printf("[Processing] dropping trace event for log %s: %v", logID, err)
	}
}
