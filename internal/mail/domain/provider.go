package domain

import (
	"context"
	"sort"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
)

// Mutation kinds supported by every provider adapter.
const (
	MutateTrash       = "trash"
	MutateArchive     = "archive"
	MutateAddLabel    = "add_label"
	MutateRemoveLabel = "remove_label"
	MutateMarkRead    = "mark_read"
	MutateStar        = "star"
	MutateFlag        = "flag"
)

// MutateOp describes a single idempotent mutation of message state.
// Label is only consulted by the label operations.
type MutateOp struct {
	Kind  string
	Label string
}

// FetchOptions bounds an oldest-first fetch.
type FetchOptions struct {
	// Limit is the maximum number of messages to hydrate and return.
	Limit int
	// MaxCandidates caps how many lightweight id+timestamp pairs are
	// listed before sorting. Must be >= Limit for the no-skip guarantee.
	MaxCandidates int
	// Since restricts candidates to messages strictly newer than this
	// instant (the account checkpoint).
	Since *time.Time
	// Query is an optional provider-native filter expression.
	Query string
}

// Candidate is a message identifier plus its provider-native timestamp,
// discovered during listing before hydration.
type Candidate struct {
	ID        string
	Timestamp time.Time
}

// Message is a fully hydrated provider message.
type Message struct {
	ExternalID string
	Subject    string
	From       string
	To         string
	Body       string // raw body, HTML or plain text
	Timestamp  time.Time
}

// FetchResult is the outcome of an oldest-first fetch. Messages are
// ordered ascending by timestamp.
type FetchResult struct {
	Messages []*Message
	HasMore  bool
}

// Profile identifies the mailbox behind an account's credentials.
type Profile struct {
	EmailAddress string
}

// DraftAttachment is a file carried into a reply draft.
type DraftAttachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// Provider is the uniform capability surface over a mail provider. All
// orchestration code depends only on this interface; gmail and outlook
// supply the concrete adapters.
type Provider interface {
	// FetchOldestFirst lists candidates across the full matching window,
	// drops any at or before opts.Since, sorts ascending by timestamp,
	// hydrates the first opts.Limit and returns them oldest-first. A
	// hydration failure ends the batch strictly before the failed message
	// and sets HasMore. HasMore also reports candidates beyond the limit.
	FetchOldestFirst(ctx context.Context, acct *accountdomain.EmailAccount, opts FetchOptions) (*FetchResult, error)

	// Mutate applies one idempotent state change to a message.
	Mutate(ctx context.Context, acct *accountdomain.EmailAccount, messageID string, op MutateOp) error

	// CreateReplyDraft creates a reply draft to the given message and
	// returns the provider draft id. Not idempotent.
	CreateReplyDraft(ctx context.Context, acct *accountdomain.EmailAccount, originalID, body string, attachments []DraftAttachment) (string, error)

	// GetProfile resolves the mailbox address for the credentials.
	GetProfile(ctx context.Context, acct *accountdomain.EmailAccount) (*Profile, error)
}

// SelectOldest sorts candidates ascending by timestamp and returns the
// first limit entries plus whether more remained. Candidates must cover
// the full matching set: truncating before sorting would drop older
// messages that appear late in provider list order.
func SelectOldest(candidates []Candidate, limit int) ([]Candidate, bool) {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if limit <= 0 || limit >= len(sorted) {
		return sorted, false
	}
	return sorted[:limit], true
}

// SortMessages orders hydrated messages ascending by timestamp. Hydration
// runs concurrently, so completion order carries no meaning.
func SortMessages(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

// FilterAfter drops candidates at or before since. Provider query
// operators are inclusive at coarse granularity (Gmail's after: rounds
// to seconds), so messages already covered by the checkpoint can be
// re-listed and must be removed here by exact timestamp comparison.
func FilterAfter(candidates []Candidate, since *time.Time) []Candidate {
	if since == nil {
		return candidates
	}
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Timestamp.After(*since) {
			out = append(out, c)
		}
	}
	return out
}

// TruncateBefore keeps only messages strictly older than barrier. After
// a hydration failure the batch must end before the failed candidate's
// timestamp: the checkpoint only ever advances across returned messages,
// so the failed one stays inside the next run's window.
func TruncateBefore(messages []*Message, barrier time.Time) []*Message {
	out := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m.Timestamp.Before(barrier) {
			out = append(out, m)
		}
	}
	return out
}
