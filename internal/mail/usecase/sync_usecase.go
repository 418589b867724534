package usecase

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	"mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/internal/mail/repository"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/normalizer"
)

const (
	defaultBatchLimit = 50
	// candidateFactor sizes the listing window relative to the batch limit.
	candidateFactor   = 5
	maxCandidatesCap  = 2000
	classifyBodyLimit = 4000
)

// TokenRefresher ensures an account's access token is usable before
// provider calls. Satisfied by the account usecase's TokenService.
type TokenRefresher interface {
	EnsureValidToken(ctx context.Context, acct *accountdomain.EmailAccount) (*accountdomain.EmailAccount, error)
}

// SyncService runs the sync pipeline for connected accounts: fetch
// oldest-first from the checkpoint, normalize, classify, persist,
// evaluate rules and execute their actions, then advance the checkpoint.
type SyncService struct {
	accounts   accountrepo.AccountRepository
	settings   accountrepo.SettingsRepository
	emails     repository.EmailRepository
	rules      repository.RuleRepository
	processing repository.ProcessingRepository

	providers  map[string]domain.Provider
	tokens     TokenRefresher
	classifier ai.Classifier
	normalizer *normalizer.Normalizer

	// mu guards locks; each account gets its own mutex so concurrent syncs
	// of different accounts proceed while a second sync of the same
	// account is rejected.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSyncService(
	accounts accountrepo.AccountRepository,
	settings accountrepo.SettingsRepository,
	emails repository.EmailRepository,
	rules repository.RuleRepository,
	processing repository.ProcessingRepository,
	providers map[string]domain.Provider,
	tokens TokenRefresher,
	classifier ai.Classifier,
	norm *normalizer.Normalizer,
) *SyncService {
	return &SyncService{
		accounts:   accounts,
		settings:   settings,
		emails:     emails,
		rules:      rules,
		processing: processing,
		providers:  providers,
		tokens:     tokens,
		classifier: classifier,
		normalizer: norm,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *SyncService) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[accountID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[accountID] = l
	return l
}

// SyncAccount runs one full sync for the account and returns its closed
// ProcessingLog. A second call while a run is in flight returns
// ErrSyncInProgress without touching any state.
func (s *SyncService) SyncAccount(ctx context.Context, accountID string) (*domain.ProcessingLog, error) {
	acct, err := s.accounts.FindByID(accountID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "load account", Err: err}
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	if !acct.IsActive {
		return nil, fmt.Errorf("account %s is disconnected", accountID)
	}

	lock := s.accountLock(accountID)
	if !lock.TryLock() {
		return nil, domain.ErrSyncInProgress
	}
	defer lock.Unlock()

	return s.run(ctx, acct)
}

func (s *SyncService) run(ctx context.Context, acct *accountdomain.EmailAccount) (*domain.ProcessingLog, error) {
	plog := &domain.ProcessingLog{
		AccountID: &acct.ID,
		UserID:    acct.UserID,
		Status:    domain.LogStatusRunning,
		StartedAt: time.Now(),
	}
	if err := s.processing.CreateLog(plog); err != nil {
		return nil, &domain.PersistenceError{Op: "create processing log", Err: err}
	}
	if err := s.accounts.SetSyncStatus(acct.ID, accountdomain.SyncStatusSyncing, ""); err != nil {
		log.Printf("[Sync] unable to mark account %s syncing: %v", acct.ID, err)
	}
	s.processing.AddEvent(plog.ID, nil, domain.EventInfo,
		fmt.Sprintf("sync started for %s (%s)", acct.EmailAddress, acct.Provider))

	err := s.process(ctx, acct, plog)

	if err != nil {
		plog.Status = domain.LogStatusFailed
		plog.ErrorMessage = err.Error()
		s.processing.AddEvent(plog.ID, nil, domain.EventError, err.Error())
	} else {
		plog.Status = domain.LogStatusSuccess
	}
	if closeErr := s.processing.CloseLog(plog); closeErr != nil {
		log.Printf("[Sync] unable to close log %s: %v", plog.ID, closeErr)
	}

	status := accountdomain.SyncStatusSuccess
	errMsg := ""
	if err != nil {
		status = accountdomain.SyncStatusError
		errMsg = err.Error()
	}
	if stErr := s.accounts.SetSyncStatus(acct.ID, status, errMsg); stErr != nil {
		log.Printf("[Sync] unable to record sync status for account %s: %v", acct.ID, stErr)
	}
	return plog, err
}

func (s *SyncService) process(ctx context.Context, acct *accountdomain.EmailAccount, plog *domain.ProcessingLog) error {
	provider, ok := s.providers[acct.Provider]
	if !ok {
		return &domain.AuthConfigError{Provider: acct.Provider, Reason: "no adapter registered"}
	}

	acct, err := s.tokens.EnsureValidToken(ctx, acct)
	if err != nil {
		return err
	}

	settings, err := s.settings.GetByUserID(acct.UserID)
	if err != nil {
		return &domain.PersistenceError{Op: "load user settings", Err: err}
	}

	limit := acct.MaxEmailsPerSync
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	maxCandidates := limit * candidateFactor
	if maxCandidates > maxCandidatesCap {
		maxCandidates = maxCandidatesCap
	}

	since := acct.EffectiveSince()
	result, err := provider.FetchOldestFirst(ctx, acct, domain.FetchOptions{
		Limit:         limit,
		MaxCandidates: maxCandidates,
		Since:         since,
	})
	if err != nil {
		return err
	}
	s.processing.AddEvent(plog.ID, nil, domain.EventInfo,
		fmt.Sprintf("fetched %d message(s), more pending: %v", len(result.Messages), result.HasMore))

	rules, err := s.rules.ListEnabledByUser(acct.UserID)
	if err != nil {
		return &domain.PersistenceError{Op: "load rules", Err: err}
	}

	var checkpoint *time.Time
	for _, msg := range result.Messages {
		if since != nil && !msg.Timestamp.After(*since) {
			// Already covered by the checkpoint; its actions ran on a
			// prior run and must not repeat.
			continue
		}
		if err := s.processMessage(ctx, provider, acct, settings, rules, plog, msg); err != nil {
			// The checkpoint covers only fully processed messages, so the
			// failed one is retried on the next run.
			s.advance(acct.ID, checkpoint)
			return err
		}
		ts := msg.Timestamp
		checkpoint = &ts
		plog.EmailsProcessed++
	}
	s.advance(acct.ID, checkpoint)
	return nil
}

func (s *SyncService) advance(accountID string, checkpoint *time.Time) {
	if checkpoint == nil {
		return
	}
	if err := s.accounts.AdvanceCheckpoint(accountID, *checkpoint); err != nil {
		log.Printf("[Sync] unable to advance checkpoint for account %s: %v", accountID, err)
	}
}

func (s *SyncService) processMessage(
	ctx context.Context,
	provider domain.Provider,
	acct *accountdomain.EmailAccount,
	settings *accountdomain.UserSettings,
	rules []*domain.Rule,
	plog *domain.ProcessingLog,
	msg *domain.Message,
) error {
	clean := s.normalizer.Clean(msg.Body)

	email := &domain.Email{
		AccountID:  acct.ID,
		ExternalID: msg.ExternalID,
		Subject:    msg.Subject,
		Sender:     msg.From,
		Recipient:  msg.To,
		ReceivedAt: msg.Timestamp,
		CleanBody:  clean,
	}

	if settings.AutoClassify && s.classifier != nil {
		body := clean
		if len(body) > classifyBodyLimit {
			runes := []rune(body)
			if len(runes) > classifyBodyLimit {
				runes = runes[:classifyBodyLimit]
			}
			body = string(runes)
		}
		classification, err := s.classifier.Classify(ctx, fmt.Sprintf("Subject: %s\n\n%s", msg.Subject, body))
		if err != nil {
			// Classification is advisory; a model outage must not stall the
			// pipeline. The message lands unclassified.
			log.Printf("[Sync] classification of %s failed: %v", msg.ExternalID, err)
			s.processing.AddEvent(plog.ID, nil, domain.EventError,
				fmt.Sprintf("classification failed for %q: %v", msg.Subject, err))
		} else {
			email.Category = classification.Category
			email.Sentiment = classification.Sentiment
			email.Priority = classification.Priority
		}
	}

	actions := EvaluateRules(rules, email, time.Now())
	email.SuggestedActions = joinActions(actions)

	taken := s.executeActions(ctx, provider, acct, settings, plog, email, msg, actions)
	email.ActionsTaken = strings.Join(taken, ",")
	email.ProcessedAt = time.Now()

	if err := s.emails.Upsert(email); err != nil {
		return &domain.PersistenceError{Op: "upsert email", Err: err}
	}

	if email.Category != "" {
		s.processing.AddEvent(plog.ID, &email.ID, domain.EventAnalysis,
			fmt.Sprintf("%q classified %s / %s / %s", email.Subject, email.Category, email.Sentiment, email.Priority))
	}
	return nil
}

// executeActions runs the selected actions against the provider and
// returns the comma-joined list of those that succeeded. Drafts run
// before a delete so the reply is created while the original still
// exists. A failed action is recorded and the rest continue.
func (s *SyncService) executeActions(
	ctx context.Context,
	provider domain.Provider,
	acct *accountdomain.EmailAccount,
	settings *accountdomain.UserSettings,
	plog *domain.ProcessingLog,
	email *domain.Email,
	msg *domain.Message,
	actions []RuleAction,
) []string {
	ordered := make([]RuleAction, 0, len(actions))
	var deletes []RuleAction
	for _, a := range actions {
		if a.Action == domain.ActionDraft && !settings.AutoDraftReplies {
			continue
		}
		if a.Action == domain.ActionDelete {
			deletes = append(deletes, a)
			continue
		}
		ordered = append(ordered, a)
	}
	ordered = append(ordered, deletes...)

	var taken []string
	for _, action := range ordered {
		if err := s.executeAction(ctx, provider, acct, msg, action); err != nil {
			log.Printf("[Sync] %v", err)
			s.processing.AddEvent(plog.ID, nil, domain.EventError, err.Error())
			continue
		}
		taken = append(taken, action.Action)
		s.processing.AddEvent(plog.ID, nil, domain.EventAction,
			fmt.Sprintf("rule %q applied %s to %q", action.RuleName, action.Action, email.Subject))
		switch action.Action {
		case domain.ActionDelete:
			plog.EmailsDeleted++
		case domain.ActionDraft:
			plog.DraftsCreated++
		}
	}
	return taken
}

func (s *SyncService) executeAction(
	ctx context.Context,
	provider domain.Provider,
	acct *accountdomain.EmailAccount,
	msg *domain.Message,
	action RuleAction,
) error {
	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		return &domain.ActionExecutionError{Action: action.Action, MessageID: msg.ExternalID, Err: err}
	}

	switch action.Action {
	case domain.ActionArchive:
		return wrap(provider.Mutate(ctx, acct, msg.ExternalID, domain.MutateOp{Kind: domain.MutateArchive}))
	case domain.ActionDelete:
		return wrap(provider.Mutate(ctx, acct, msg.ExternalID, domain.MutateOp{Kind: domain.MutateTrash}))
	case domain.ActionStar:
		return wrap(provider.Mutate(ctx, acct, msg.ExternalID, domain.MutateOp{Kind: domain.MutateStar}))
	case domain.ActionRead:
		return wrap(provider.Mutate(ctx, acct, msg.ExternalID, domain.MutateOp{Kind: domain.MutateMarkRead}))
	case domain.ActionDraft:
		if s.classifier == nil {
			return wrap(fmt.Errorf("no classifier configured for draft generation"))
		}
		original := fmt.Sprintf("From: %s\nSubject: %s\n\n%s", msg.From, msg.Subject, s.normalizer.Clean(msg.Body))
		body, err := s.classifier.DraftReply(ctx, original, action.Instructions)
		if err != nil {
			return wrap(err)
		}
		attachments, err := parseAttachments(action.Attachments)
		if err != nil {
			return wrap(err)
		}
		_, err = provider.CreateReplyDraft(ctx, acct, msg.ExternalID, body, attachments)
		return wrap(err)
	}
	return wrap(fmt.Errorf("unknown action"))
}

// parseAttachments decodes a rule's stored attachment list: a JSON array
// of {filename, mime_type, data} with base64 content.
func parseAttachments(raw string) ([]domain.DraftAttachment, error) {
	if raw == "" {
		return nil, nil
	}
	var refs []struct {
		Filename string `json:"filename"`
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("invalid attachment list: %w", err)
	}
	out := make([]domain.DraftAttachment, 0, len(refs))
	for _, ref := range refs {
		data, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid attachment content for %s: %w", ref.Filename, err)
		}
		mime := ref.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		out = append(out, domain.DraftAttachment{Filename: ref.Filename, MimeType: mime, Data: data})
	}
	return out, nil
}

func joinActions(actions []RuleAction) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.Action
	}
	return strings.Join(names, ",")
}
