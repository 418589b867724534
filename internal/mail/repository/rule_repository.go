package repository

import (
	"errors"
	"time"

	maildomain "mailpilot-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RuleRepository persists user automation rules.
type RuleRepository interface {
	Create(rule *maildomain.Rule) error
	Update(rule *maildomain.Rule) error
	FindByID(id string) (*maildomain.Rule, error)
	// ListEnabledByUser returns enabled rules in creation order, which is
	// the order their actions contribute to a message's action set.
	ListEnabledByUser(userID string) ([]*maildomain.Rule, error)
	ListByUser(userID string) ([]*maildomain.Rule, error)
	Delete(id string) error
}

// ruleRepository implements RuleRepository interface
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new instance of ruleRepository
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) Create(rule *maildomain.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()
	return r.db.Create(rule).Error
}

func (r *ruleRepository) Update(rule *maildomain.Rule) error {
	rule.UpdatedAt = time.Now()
	return r.db.Save(rule).Error
}

func (r *ruleRepository) FindByID(id string) (*maildomain.Rule, error) {
	var rule maildomain.Rule
	err := r.db.Where("id = ?", id).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) ListEnabledByUser(userID string) ([]*maildomain.Rule, error) {
	var rules []*maildomain.Rule
	err := r.db.Where("user_id = ? AND is_enabled = ?", userID, true).Order("created_at").Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) ListByUser(userID string) ([]*maildomain.Rule, error) {
	var rules []*maildomain.Rule
	err := r.db.Where("user_id = ?", userID).Order("created_at").Find(&rules).Error
	return rules, err
}

func (r *ruleRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&maildomain.Rule{}).Error
}
