package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	maildomain "mailpilot-backend/internal/mail/domain"
	mailrepo "mailpilot-backend/internal/mail/repository"
)

// AccountSyncer runs one sync for an account. Satisfied by the mail
// usecase's SyncService.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID string) (*maildomain.ProcessingLog, error)
}

// SyncScheduler drives background sync ticks and periodic retention
// cleanup. Each tick walks the active accounts, skips users whose sync
// cadence has not elapsed, and syncs the due accounts with bounded
// concurrency.
type SyncScheduler struct {
	accounts   accountrepo.AccountRepository
	settings   accountrepo.SettingsRepository
	emails     mailrepo.EmailRepository
	processing mailrepo.ProcessingRepository
	syncer     AccountSyncer

	tickInterval    time.Duration
	cleanupInterval time.Duration
	logRetention    time.Duration
	trashRetention  time.Duration
	maxConcurrent   int

	mu        sync.Mutex
	isRunning bool

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSyncScheduler(
	accounts accountrepo.AccountRepository,
	settings accountrepo.SettingsRepository,
	emails mailrepo.EmailRepository,
	processing mailrepo.ProcessingRepository,
	syncer AccountSyncer,
	tickInterval, cleanupInterval, logRetention, trashRetention time.Duration,
	maxConcurrent int,
) *SyncScheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &SyncScheduler{
		accounts:        accounts,
		settings:        settings,
		emails:          emails,
		processing:      processing,
		syncer:          syncer,
		tickInterval:    tickInterval,
		cleanupInterval: cleanupInterval,
		logRetention:    logRetention,
		trashRetention:  trashRetention,
		maxConcurrent:   maxConcurrent,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the scheduler loops.
func (s *SyncScheduler) Start() {
	log.Printf("[SyncScheduler] Starting (tick: %v, cleanup: %v)", s.tickInterval, s.cleanupInterval)

	go func() {
		s.tick()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick()
			case <-s.stopChan:
				log.Println("[SyncScheduler] Sync loop stopped")
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanup()
			case <-s.stopChan:
				log.Println("[SyncScheduler] Cleanup loop stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler. Safe to call more than once.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// tick runs one sync pass. A tick that fires while the previous pass is
// still running is a no-op.
func (s *SyncScheduler) tick() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		log.Println("[SyncScheduler] Previous pass still running, skipping tick")
		return
	}
	s.isRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	accounts, err := s.accounts.ListActive()
	if err != nil {
		log.Printf("[SyncScheduler] Error listing active accounts: %v", err)
		return
	}
	due := s.filterDue(accounts)
	if len(due) == 0 {
		return
	}
	log.Printf("[SyncScheduler] %d account(s) due for sync", len(due))

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	for _, acct := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(acct *accountdomain.EmailAccount) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.syncer.SyncAccount(context.Background(), acct.ID); err != nil {
				if errors.Is(err, maildomain.ErrSyncInProgress) {
					return
				}
				log.Printf("[SyncScheduler] Sync of %s failed: %v", acct.EmailAddress, err)
			}
		}(acct)
	}
	wg.Wait()
}

// userCadence is a per-user interval and last successful run, cached as
// one unit so a partial load can never leave a user half-resolved.
type userCadence struct {
	interval time.Duration
	last     *time.Time
}

// filterDue keeps accounts whose user's sync interval has elapsed since
// their last successful run. Users without a prior run are always due;
// users whose cadence cannot be loaded are skipped this tick.
func (s *SyncScheduler) filterDue(accounts []*accountdomain.EmailAccount) []*accountdomain.EmailAccount {
	now := time.Now()
	cadences := make(map[string]*userCadence)

	var due []*accountdomain.EmailAccount
	for _, acct := range accounts {
		cadence, ok := cadences[acct.UserID]
		if !ok {
			settings, err := s.settings.GetByUserID(acct.UserID)
			if err != nil {
				log.Printf("[SyncScheduler] Error loading settings for user %s: %v", acct.UserID, err)
				continue
			}
			last, err := s.processing.LastSuccessfulSync(acct.UserID)
			if err != nil {
				log.Printf("[SyncScheduler] Error loading last sync for user %s: %v", acct.UserID, err)
				continue
			}
			cadence = &userCadence{
				interval: time.Duration(settings.SyncIntervalMinutes) * time.Minute,
				last:     last,
			}
			cadences[acct.UserID] = cadence
		}

		if cadence.last == nil || now.Sub(*cadence.last) >= cadence.interval {
			due = append(due, acct)
		}
	}
	return due
}

// cleanup enforces retention: old run logs and their events, and emails
// that were delete-actioned longer ago than the trash window.
func (s *SyncScheduler) cleanup() {
	logs, err := s.processing.DeleteLogsBefore(time.Now().Add(-s.logRetention))
	if err != nil {
		log.Printf("[SyncScheduler] Error pruning processing logs: %v", err)
	} else if logs > 0 {
		log.Printf("[SyncScheduler] Pruned %d processing log(s)", logs)
	}

	emails, err := s.emails.DeleteTrashedBefore(time.Now().Add(-s.trashRetention))
	if err != nil {
		log.Printf("[SyncScheduler] Error pruning trashed emails: %v", err)
	} else if emails > 0 {
		log.Printf("[SyncScheduler] Pruned %d trashed email(s)", emails)
	}
}
