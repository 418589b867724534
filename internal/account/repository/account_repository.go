package repository

import (
	"errors"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	maildomain "mailpilot-backend/internal/mail/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountRepository persists connected mailbox accounts.
type AccountRepository interface {
	Create(account *accountdomain.EmailAccount) error
	Update(account *accountdomain.EmailAccount) error
	FindByID(id string) (*accountdomain.EmailAccount, error)
	FindByUserAndAddress(userID, provider, address string) (*accountdomain.EmailAccount, error)
	ListByUserID(userID string) ([]*accountdomain.EmailAccount, error)
	ListActive() ([]*accountdomain.EmailAccount, error)
	UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error
	AdvanceCheckpoint(id string, checkpoint time.Time) error
	SetSyncStatus(id, status, errMsg string) error
	Delete(id string) error
}

// accountRepository implements AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new instance of accountRepository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *accountdomain.EmailAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	return r.db.Create(account).Error
}

func (r *accountRepository) Update(account *accountdomain.EmailAccount) error {
	account.UpdatedAt = time.Now()
	return r.db.Save(account).Error
}

func (r *accountRepository) FindByID(id string) (*accountdomain.EmailAccount, error) {
	var account accountdomain.EmailAccount
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) FindByUserAndAddress(userID, provider, address string) (*accountdomain.EmailAccount, error) {
	var account accountdomain.EmailAccount
	err := r.db.Where("user_id = ? AND provider = ? AND email_address = ?", userID, provider, address).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) ListByUserID(userID string) ([]*accountdomain.EmailAccount, error) {
	var accounts []*accountdomain.EmailAccount
	err := r.db.Where("user_id = ?", userID).Order("created_at").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) ListActive() ([]*accountdomain.EmailAccount, error) {
	var accounts []*accountdomain.EmailAccount
	err := r.db.Where("is_active = ?", true).Order("created_at").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error {
	updates := map[string]interface{}{
		"access_token":     accessToken,
		"token_expires_at": expiresAt,
		"updated_at":       time.Now(),
	}
	if refreshToken != "" {
		updates["refresh_token"] = refreshToken
	}
	return r.db.Model(&accountdomain.EmailAccount{}).Where("id = ?", id).Updates(updates).Error
}

// AdvanceCheckpoint moves the checkpoint forward, never backward: the
// WHERE clause refuses regressions so the monotonicity invariant holds
// even if a stale caller shows up.
func (r *accountRepository) AdvanceCheckpoint(id string, checkpoint time.Time) error {
	return r.db.Model(&accountdomain.EmailAccount{}).
		Where("id = ? AND (last_synced_at IS NULL OR last_synced_at <= ?)", id, checkpoint).
		Updates(map[string]interface{}{
			"last_synced_at": checkpoint,
			"updated_at":     time.Now(),
		}).Error
}

func (r *accountRepository) SetSyncStatus(id, status, errMsg string) error {
	now := time.Now()
	return r.db.Model(&accountdomain.EmailAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_sync_status": status,
		"last_sync_at":     &now,
		"last_sync_error":  errMsg,
		"updated_at":       now,
	}).Error
}

// Delete removes the account and cascades its scoped emails and logs.
func (r *accountRepository) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", id).Delete(&maildomain.Email{}).Error; err != nil {
			return err
		}
		var logIDs []string
		if err := tx.Model(&maildomain.ProcessingLog{}).Where("account_id = ?", id).Pluck("id", &logIDs).Error; err != nil {
			return err
		}
		if len(logIDs) > 0 {
			if err := tx.Where("log_id IN ?", logIDs).Delete(&maildomain.ProcessingEvent{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("account_id = ?", id).Delete(&maildomain.ProcessingLog{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&accountdomain.EmailAccount{}).Error
	})
}
