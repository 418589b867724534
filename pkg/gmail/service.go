package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/vault"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// listPageSize is the Gmail API maximum per list page.
	listPageSize = 500
	// hydrateConcurrency bounds parallel message fetches.
	hydrateConcurrency = 10
)

// Adapter implements the Provider capability surface for Gmail.
type Adapter struct {
	vault *vault.Vault
}

// NewAdapter creates a Gmail adapter that decrypts account tokens with
// the given vault.
func NewAdapter(v *vault.Vault) *Adapter {
	return &Adapter{vault: v}
}

// service builds a Gmail client for the account's current access token.
// Token refresh is handled upstream by the token lifecycle; the adapter
// never refreshes on its own.
func (a *Adapter) service(ctx context.Context, acct *accountdomain.EmailAccount) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: a.vault.Decrypt(acct.AccessToken),
		TokenType:   "Bearer",
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}
	return srv, nil
}

// FetchOldestFirst lists candidate ids across the full matching window,
// resolves their timestamps with the minimal projection, sorts ascending,
// and hydrates only the first opts.Limit messages. Listing the full
// candidate set before truncation is what guarantees no message is ever
// skipped across bounded runs.
func (a *Adapter) FetchOldestFirst(ctx context.Context, acct *accountdomain.EmailAccount, opts maildomain.FetchOptions) (*maildomain.FetchResult, error) {
	srv, err := a.service(ctx, acct)
	if err != nil {
		return nil, &maildomain.ProviderFetchError{Provider: accountdomain.ProviderGmail, Op: "connect", Err: err}
	}

	query := buildQuery(opts)

	var ids []string
	pageToken := ""
	for len(ids) < opts.MaxCandidates {
		call := srv.Users.Messages.List("me").MaxResults(listPageSize)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, &maildomain.ProviderFetchError{Provider: accountdomain.ProviderGmail, Op: "list messages", Err: err}
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
			if len(ids) >= opts.MaxCandidates {
				break
			}
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	// Resolve a timestamp per candidate with the cheapest call shape:
	// minimal projection carries InternalDate and nothing heavy. after: is
	// second-inclusive, so checkpoint-covered candidates re-list here and
	// are removed by the exact comparison.
	candidates := maildomain.FilterAfter(a.resolveTimestamps(ctx, srv, ids), opts.Since)

	selected, hasMore := maildomain.SelectOldest(candidates, opts.Limit)

	messages, failedAt := a.hydrate(ctx, srv, selected)
	maildomain.SortMessages(messages)
	if failedAt != nil {
		// The batch ends before the failed candidate so the checkpoint
		// cannot advance past it.
		messages = maildomain.TruncateBefore(messages, *failedAt)
		hasMore = true
	}

	return &maildomain.FetchResult{Messages: messages, HasMore: hasMore}, nil
}

func (a *Adapter) resolveTimestamps(ctx context.Context, srv *gmail.Service, ids []string) []maildomain.Candidate {
	type result struct {
		candidate maildomain.Candidate
		ok        bool
	}
	results := make(chan result, len(ids))
	semaphore := make(chan struct{}, hydrateConcurrency)

	for _, id := range ids {
		go func(msgID string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			msg, err := srv.Users.Messages.Get("me", msgID).Format("minimal").Context(ctx).Do()
			if err != nil {
				log.Printf("[Gmail] skipping candidate %s: %v", msgID, err)
				results <- result{ok: false}
				return
			}
			results <- result{
				candidate: maildomain.Candidate{
					ID:        msgID,
					Timestamp: time.UnixMilli(msg.InternalDate),
				},
				ok: true,
			}
		}(id)
	}

	candidates := make([]maildomain.Candidate, 0, len(ids))
	for range ids {
		if r := <-results; r.ok {
			candidates = append(candidates, r.candidate)
		}
	}
	return candidates
}

// hydrate fetches full content for the selected candidates. It reports
// the oldest timestamp among candidates whose hydration failed; the
// caller truncates the batch below it so those messages remain
// candidates on the next run.
func (a *Adapter) hydrate(ctx context.Context, srv *gmail.Service, selected []maildomain.Candidate) ([]*maildomain.Message, *time.Time) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, hydrateConcurrency)
	messages := make([]*maildomain.Message, 0, len(selected))
	var failedAt *time.Time

	for _, cand := range selected {
		wg.Add(1)
		go func(c maildomain.Candidate) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			full, err := srv.Users.Messages.Get("me", c.ID).Format("full").Context(ctx).Do()
			if err != nil {
				var apiErr *googleapi.Error
				if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
					log.Printf("[Gmail] message %s vanished before hydration, skipping", c.ID)
				} else {
					log.Printf("[Gmail] hydration of %s failed, skipping this run: %v", c.ID, err)
				}
				mu.Lock()
				if failedAt == nil || c.Timestamp.Before(*failedAt) {
					ts := c.Timestamp
					failedAt = &ts
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			messages = append(messages, convertMessage(full))
			mu.Unlock()
		}(cand)
	}
	wg.Wait()
	return messages, failedAt
}

// Mutate applies a single idempotent state change via label modification,
// the Gmail-native shape for every supported op.
func (a *Adapter) Mutate(ctx context.Context, acct *accountdomain.EmailAccount, messageID string, op maildomain.MutateOp) error {
	srv, err := a.service(ctx, acct)
	if err != nil {
		return err
	}

	var modify *gmail.ModifyMessageRequest
	switch op.Kind {
	case maildomain.MutateTrash:
		_, err = srv.Users.Messages.Trash("me", messageID).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("unable to trash message: %v", err)
		}
		return nil
	case maildomain.MutateArchive:
		modify = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"INBOX"}}
	case maildomain.MutateMarkRead:
		modify = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	case maildomain.MutateStar:
		modify = &gmail.ModifyMessageRequest{AddLabelIds: []string{"STARRED"}}
	case maildomain.MutateFlag:
		modify = &gmail.ModifyMessageRequest{AddLabelIds: []string{"IMPORTANT"}}
	case maildomain.MutateAddLabel:
		modify = &gmail.ModifyMessageRequest{AddLabelIds: []string{op.Label}}
	case maildomain.MutateRemoveLabel:
		modify = &gmail.ModifyMessageRequest{RemoveLabelIds: []string{op.Label}}
	default:
		return fmt.Errorf("unsupported mutation %q", op.Kind)
	}

	if _, err := srv.Users.Messages.Modify("me", messageID, modify).Context(ctx).Do(); err != nil {
		return fmt.Errorf("unable to modify message labels: %v", err)
	}
	return nil
}

// CreateReplyDraft builds a raw MIME reply threaded onto the original
// message and stores it as a Gmail draft.
func (a *Adapter) CreateReplyDraft(ctx context.Context, acct *accountdomain.EmailAccount, originalID, body string, attachments []maildomain.DraftAttachment) (string, error) {
	srv, err := a.service(ctx, acct)
	if err != nil {
		return "", err
	}

	original, err := srv.Users.Messages.Get("me", originalID).Format("metadata").
		MetadataHeaders("Subject", "From", "Message-ID", "Reply-To").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to load original message: %v", err)
	}

	replyTo := getHeader(original.Payload.Headers, "Reply-To")
	if replyTo == "" {
		replyTo = getHeader(original.Payload.Headers, "From")
	}
	subject := getHeader(original.Payload.Headers, "Subject")
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	messageID := getHeader(original.Payload.Headers, "Message-ID")

	raw, err := buildReplyMIME(acct.EmailAddress, replyTo, subject, messageID, body, attachments)
	if err != nil {
		return "", fmt.Errorf("unable to build reply MIME: %v", err)
	}

	draft, err := srv.Users.Drafts.Create("me", &gmail.Draft{
		Message: &gmail.Message{
			// Gmail requires base64url without padding for raw messages.
			Raw:      base64.RawURLEncoding.EncodeToString(raw),
			ThreadId: original.ThreadId,
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create draft: %v", err)
	}
	return draft.Id, nil
}

// GetProfile resolves the mailbox address behind the account's token.
func (a *Adapter) GetProfile(ctx context.Context, acct *accountdomain.EmailAccount) (*maildomain.Profile, error) {
	srv, err := a.service(ctx, acct)
	if err != nil {
		return nil, err
	}
	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to fetch profile: %v", err)
	}
	return &maildomain.Profile{EmailAddress: profile.EmailAddress}, nil
}

// buildQuery translates fetch options into a Gmail search expression.
// after: takes a unix timestamp in seconds and is inclusive at second
// granularity; the checkpoint second itself re-lists and FilterAfter
// removes it by exact timestamp comparison.
func buildQuery(opts maildomain.FetchOptions) string {
	parts := []string{}
	if opts.Query != "" {
		parts = append(parts, opts.Query)
	} else {
		parts = append(parts, "in:inbox")
	}
	if opts.Since != nil {
		parts = append(parts, fmt.Sprintf("after:%d", opts.Since.Unix()))
	}
	return strings.Join(parts, " ")
}

func buildReplyMIME(from, to, subject, inReplyTo, body string, attachments []maildomain.DraftAttachment) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	toList, err := mail.ParseAddressList(to)
	if err != nil {
		toList = []*mail.Address{{Address: to}}
	}
	h.SetAddressList("To", toList)
	h.SetSubject(subject)
	if inReplyTo != "" {
		ref := strings.Trim(inReplyTo, "<>")
		h.SetMsgIDList("In-Reply-To", []string{ref})
		h.SetMsgIDList("References", []string{ref})
	}

	w, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	iw, err := w.CreateSingleInline(th)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(iw, body); err != nil {
		return nil, err
	}
	if err := iw.Close(); err != nil {
		return nil, err
	}

	for _, att := range attachments {
		var ah mail.AttachmentHeader
		ah.SetFilename(att.Filename)
		if att.MimeType != "" {
			ah.SetContentType(att.MimeType, nil)
		}
		aw, err := w.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		if _, err := aw.Write(att.Data); err != nil {
			return nil, err
		}
		if err := aw.Close(); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Helper functions

func convertMessage(msg *gmail.Message) *maildomain.Message {
	body := getEmailBody(msg.Payload)
	if body == "" {
		body = msg.Snippet
	}
	return &maildomain.Message{
		ExternalID: msg.Id,
		Subject:    getHeader(msg.Payload.Headers, "Subject"),
		From:       getHeader(msg.Payload.Headers, "From"),
		To:         getHeader(msg.Payload.Headers, "To"),
		Body:       body,
		Timestamp:  time.UnixMilli(msg.InternalDate),
	}
}

// decodeBody handles both padded and unpadded base64url part data.
func decodeBody(data string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.URLEncoding.DecodeString(data)
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// getEmailBody walks the MIME tree preferring HTML over plain text; the
// normalizer downstream handles either.
func getEmailBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		if data, err := decodeBody(payload.Body.Data); err == nil {
			return string(data)
		}
	}

	var htmlBody, plainBody string
	var findBody func(parts []*gmail.MessagePart)
	findBody = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := decodeBody(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						htmlBody = string(data)
					case "text/plain":
						plainBody = string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				findBody(part.Parts)
			}
		}
	}
	findBody(payload.Parts)

	if htmlBody != "" {
		return htmlBody
	}
	return plainBody
}
