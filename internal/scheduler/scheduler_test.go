package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	maildomain "mailpilot-backend/internal/mail/domain"
)

type fakeAccounts struct {
	active []*accountdomain.EmailAccount
}

func (f *fakeAccounts) Create(a *accountdomain.EmailAccount) error { return nil }
func (f *fakeAccounts) Update(a *accountdomain.EmailAccount) error { return nil }
func (f *fakeAccounts) FindByID(id string) (*accountdomain.EmailAccount, error) {
	return nil, nil
}
func (f *fakeAccounts) FindByUserAndAddress(userID, provider, address string) (*accountdomain.EmailAccount, error) {
	return nil, nil
}
func (f *fakeAccounts) ListByUserID(userID string) ([]*accountdomain.EmailAccount, error) {
	return nil, nil
}
func (f *fakeAccounts) ListActive() ([]*accountdomain.EmailAccount, error) {
	return f.active, nil
}
func (f *fakeAccounts) UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error {
	return nil
}
func (f *fakeAccounts) AdvanceCheckpoint(id string, checkpoint time.Time) error { return nil }
func (f *fakeAccounts) SetSyncStatus(id, status, errMsg string) error           { return nil }
func (f *fakeAccounts) Delete(id string) error                                  { return nil }

type fakeSettings struct {
	intervalMinutes int
}

func (f *fakeSettings) GetByUserID(userID string) (*accountdomain.UserSettings, error) {
	s := accountdomain.DefaultSettings(userID)
	if f.intervalMinutes > 0 {
		s.SyncIntervalMinutes = f.intervalMinutes
	}
	return s, nil
}

func (f *fakeSettings) Upsert(s *accountdomain.UserSettings) error { return nil }

type fakeEmails struct {
	mu           sync.Mutex
	trashCutoffs []time.Time
}

func (f *fakeEmails) Upsert(e *maildomain.Email) error { return nil }
func (f *fakeEmails) FindByExternalID(accountID, externalID string) (*maildomain.Email, error) {
	return nil, nil
}
func (f *fakeEmails) ListByAccount(accountID string, limit int) ([]*maildomain.Email, error) {
	return nil, nil
}
func (f *fakeEmails) DeleteTrashedBefore(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trashCutoffs = append(f.trashCutoffs, cutoff)
	return 3, nil
}

type fakeProcessing struct {
	mu          sync.Mutex
	lastSuccess *time.Time
	lastErr     error
	logCutoffs  []time.Time
}

func (f *fakeProcessing) CreateLog(plog *maildomain.ProcessingLog) error { return nil }
func (f *fakeProcessing) CloseLog(plog *maildomain.ProcessingLog) error  { return nil }
func (f *fakeProcessing) LastSuccessfulSync(userID string) (*time.Time, error) {
	if f.lastErr != nil {
		return nil, f.lastErr
	}
	return f.lastSuccess, nil
}
func (f *fakeProcessing) ListLogsByUser(userID string, limit int) ([]*maildomain.ProcessingLog, error) {
	return nil, nil
}
func (f *fakeProcessing) DeleteLogsBefore(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCutoffs = append(f.logCutoffs, cutoff)
	return 2, nil
}
func (f *fakeProcessing) AddEvent(logID string, emailID *string, kind, message string) {}

type fakeSyncer struct {
	mu     sync.Mutex
	synced []string
	gate   chan struct{} // when set, SyncAccount blocks until closed
}

func (f *fakeSyncer) SyncAccount(ctx context.Context, accountID string) (*maildomain.ProcessingLog, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, accountID)
	return &maildomain.ProcessingLog{Status: maildomain.LogStatusSuccess}, nil
}

func (f *fakeSyncer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.synced...)
}

func account(id, userID string) *accountdomain.EmailAccount {
	return &accountdomain.EmailAccount{
		ID: id, UserID: userID, Provider: accountdomain.ProviderGmail,
		EmailAddress: id + "@example.com", IsActive: true,
	}
}

func newTestScheduler(accounts *fakeAccounts, settings *fakeSettings, emails *fakeEmails, processing *fakeProcessing, syncer *fakeSyncer) *SyncScheduler {
	return NewSyncScheduler(
		accounts, settings, emails, processing, syncer,
		time.Minute, time.Hour, 30*24*time.Hour, 7*24*time.Hour, 2,
	)
}

func TestTickSyncsDueAccounts(t *testing.T) {
	accounts := &fakeAccounts{active: []*accountdomain.EmailAccount{
		account("a1", "u1"), account("a2", "u1"), account("a3", "u2"),
	}}
	syncer := &fakeSyncer{}
	s := newTestScheduler(accounts, &fakeSettings{}, &fakeEmails{}, &fakeProcessing{}, syncer)

	s.tick()

	if got := syncer.calls(); len(got) != 3 {
		t.Errorf("Expected all 3 accounts synced, got %v", got)
	}
}

func TestTickSkipsUserWhenLastRunUnavailable(t *testing.T) {
	accounts := &fakeAccounts{active: []*accountdomain.EmailAccount{
		account("a1", "u1"), account("a2", "u1"),
	}}
	syncer := &fakeSyncer{}
	processing := &fakeProcessing{lastErr: errors.New("query timeout")}
	s := newTestScheduler(accounts, &fakeSettings{}, &fakeEmails{}, processing, syncer)

	s.tick()

	if got := syncer.calls(); len(got) != 0 {
		t.Errorf("Expected no syncs while the user's cadence is unknown, got %v", got)
	}
}

func TestTickSkipsUsersInsideInterval(t *testing.T) {
	recent := time.Now().Add(-5 * time.Minute)
	accounts := &fakeAccounts{active: []*accountdomain.EmailAccount{account("a1", "u1")}}
	syncer := &fakeSyncer{}
	s := newTestScheduler(accounts, &fakeSettings{intervalMinutes: 15}, &fakeEmails{}, &fakeProcessing{lastSuccess: &recent}, syncer)

	s.tick()

	if got := syncer.calls(); len(got) != 0 {
		t.Errorf("Expected no syncs inside the interval, got %v", got)
	}
}

func TestTickSyncsUsersPastInterval(t *testing.T) {
	stale := time.Now().Add(-20 * time.Minute)
	accounts := &fakeAccounts{active: []*accountdomain.EmailAccount{account("a1", "u1")}}
	syncer := &fakeSyncer{}
	s := newTestScheduler(accounts, &fakeSettings{intervalMinutes: 15}, &fakeEmails{}, &fakeProcessing{lastSuccess: &stale}, syncer)

	s.tick()

	if got := syncer.calls(); len(got) != 1 {
		t.Errorf("Expected one sync past the interval, got %v", got)
	}
}

func TestOverlappingTickIsNoOp(t *testing.T) {
	accounts := &fakeAccounts{active: []*accountdomain.EmailAccount{account("a1", "u1")}}
	syncer := &fakeSyncer{gate: make(chan struct{})}
	s := newTestScheduler(accounts, &fakeSettings{}, &fakeEmails{}, &fakeProcessing{}, syncer)

	firstDone := make(chan struct{})
	go func() {
		s.tick()
		close(firstDone)
	}()

	// Wait until the first pass is inside its blocked sync.
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		running := s.isRunning
		s.mu.Unlock()
		if running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("First pass never started")
		case <-time.After(time.Millisecond):
		}
	}

	s.tick() // must return immediately without another sync

	close(syncer.gate)
	<-firstDone
	if got := syncer.calls(); len(got) != 1 {
		t.Errorf("Expected a single sync across overlapping ticks, got %v", got)
	}
}

func TestCleanupUsesRetentionWindows(t *testing.T) {
	emails := &fakeEmails{}
	processing := &fakeProcessing{}
	s := newTestScheduler(&fakeAccounts{}, &fakeSettings{}, emails, processing, &fakeSyncer{})

	before := time.Now()
	s.cleanup()

	if len(processing.logCutoffs) != 1 {
		t.Fatalf("Expected one log prune, got %d", len(processing.logCutoffs))
	}
	wantLogCutoff := before.Add(-30 * 24 * time.Hour)
	if processing.logCutoffs[0].Before(wantLogCutoff.Add(-time.Minute)) ||
		processing.logCutoffs[0].After(wantLogCutoff.Add(time.Minute)) {
		t.Errorf("Log cutoff %v not near %v", processing.logCutoffs[0], wantLogCutoff)
	}

	if len(emails.trashCutoffs) != 1 {
		t.Fatalf("Expected one trash prune, got %d", len(emails.trashCutoffs))
	}
	wantTrashCutoff := before.Add(-7 * 24 * time.Hour)
	if emails.trashCutoffs[0].Before(wantTrashCutoff.Add(-time.Minute)) ||
		emails.trashCutoffs[0].After(wantTrashCutoff.Add(time.Minute)) {
		t.Errorf("Trash cutoff %v not near %v", emails.trashCutoffs[0], wantTrashCutoff)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestScheduler(&fakeAccounts{}, &fakeSettings{}, &fakeEmails{}, &fakeProcessing{}, &fakeSyncer{})
	s.Start()
	s.Stop()
	s.Stop() // second call must not panic
}
