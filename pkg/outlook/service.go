package outlook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/vault"

	"golang.org/x/oauth2"
)

const (
	graphBase = "https://graph.microsoft.com/v1.0"
	// listPageSize is the $top value per list page.
	listPageSize = 100
)

// Well-known folder ids used by the mutation surface.
const (
	folderDeletedItems = "deleteditems"
	folderArchive      = "archive"
)

// Adapter implements the Provider capability surface for Outlook via the
// Microsoft Graph REST API.
type Adapter struct {
	vault *vault.Vault
	base  string
}

// NewAdapter creates an Outlook adapter that decrypts account tokens with
// the given vault.
func NewAdapter(v *vault.Vault) *Adapter {
	return &Adapter{vault: v, base: graphBase}
}

func (a *Adapter) client(ctx context.Context, acct *accountdomain.EmailAccount) *http.Client {
	token := &oauth2.Token{
		AccessToken: a.vault.Decrypt(acct.AccessToken),
		TokenType:   "Bearer",
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))
}

// graphMessage is the subset of the Graph message resource we consume.
type graphMessage struct {
	ID               string `json:"id"`
	Subject          string `json:"subject"`
	BodyPreview      string `json:"bodyPreview"`
	ReceivedDateTime string `json:"receivedDateTime"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
}

type graphListResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// FetchOldestFirst lists candidates with the lightweight id+receivedDateTime
// projection across the full window, sorts ascending, and hydrates only
// the selected messages. Graph's list projection already carries the
// timestamp, so no extra per-candidate call is needed.
func (a *Adapter) FetchOldestFirst(ctx context.Context, acct *accountdomain.EmailAccount, opts maildomain.FetchOptions) (*maildomain.FetchResult, error) {
	client := a.client(ctx, acct)

	params := url.Values{}
	params.Set("$select", "id,receivedDateTime")
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", fmt.Sprintf("%d", listPageSize))
	filter := opts.Query
	if opts.Since != nil {
		since := fmt.Sprintf("receivedDateTime gt %s", opts.Since.UTC().Format(time.RFC3339))
		if filter != "" {
			filter = filter + " and " + since
		} else {
			filter = since
		}
	}
	if filter != "" {
		params.Set("$filter", filter)
	}

	var candidates []maildomain.Candidate
	next := a.base + "/me/mailFolders/inbox/messages?" + params.Encode()
	for next != "" && len(candidates) < opts.MaxCandidates {
		var page graphListResponse
		if err := a.get(ctx, client, next, &page); err != nil {
			return nil, &maildomain.ProviderFetchError{Provider: accountdomain.ProviderOutlook, Op: "list messages", Err: err}
		}
		for _, m := range page.Value {
			ts, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
			if err != nil {
				log.Printf("[Outlook] skipping candidate %s with unparseable timestamp %q", m.ID, m.ReceivedDateTime)
				continue
			}
			candidates = append(candidates, maildomain.Candidate{ID: m.ID, Timestamp: ts})
			if len(candidates) >= opts.MaxCandidates {
				break
			}
		}
		next = page.NextLink
	}
	// Graph's gt filter is serialized at second granularity; drop anything
	// the checkpoint already covers by exact comparison.
	candidates = maildomain.FilterAfter(candidates, opts.Since)

	selected, hasMore := maildomain.SelectOldest(candidates, opts.Limit)

	messages := make([]*maildomain.Message, 0, len(selected))
	var failedAt *time.Time
	for _, cand := range selected {
		msg, err := a.hydrate(ctx, client, cand)
		if err != nil {
			log.Printf("[Outlook] hydration of %s failed, skipping this run: %v", cand.ID, err)
			if failedAt == nil || cand.Timestamp.Before(*failedAt) {
				ts := cand.Timestamp
				failedAt = &ts
			}
			continue
		}
		messages = append(messages, msg)
	}
	maildomain.SortMessages(messages)
	if failedAt != nil {
		// The batch ends before the failed candidate so the checkpoint
		// cannot advance past it; it stays in the next run's window.
		messages = maildomain.TruncateBefore(messages, *failedAt)
		hasMore = true
	}

	return &maildomain.FetchResult{Messages: messages, HasMore: hasMore}, nil
}

func (a *Adapter) hydrate(ctx context.Context, client *http.Client, cand maildomain.Candidate) (*maildomain.Message, error) {
	params := url.Values{}
	params.Set("$select", "id,subject,from,toRecipients,receivedDateTime,body,bodyPreview")
	var msg graphMessage
	if err := a.get(ctx, client, a.base+"/me/messages/"+cand.ID+"?"+params.Encode(), &msg); err != nil {
		return nil, err
	}

	to := ""
	if len(msg.ToRecipients) > 0 {
		to = msg.ToRecipients[0].EmailAddress.Address
	}
	from := msg.From.EmailAddress.Address
	if msg.From.EmailAddress.Name != "" {
		from = fmt.Sprintf("%s <%s>", msg.From.EmailAddress.Name, msg.From.EmailAddress.Address)
	}
	body := msg.Body.Content
	if body == "" {
		body = msg.BodyPreview
	}
	return &maildomain.Message{
		ExternalID: msg.ID,
		Subject:    msg.Subject,
		From:       from,
		To:         to,
		Body:       body,
		Timestamp:  cand.Timestamp,
	}, nil
}

// Mutate applies one idempotent state change. Trash and archive are
// folder moves; read and flag state are PATCHes.
func (a *Adapter) Mutate(ctx context.Context, acct *accountdomain.EmailAccount, messageID string, op maildomain.MutateOp) error {
	client := a.client(ctx, acct)

	switch op.Kind {
	case maildomain.MutateTrash:
		return a.move(ctx, client, messageID, folderDeletedItems)
	case maildomain.MutateArchive:
		return a.move(ctx, client, messageID, folderArchive)
	case maildomain.MutateMarkRead:
		return a.patch(ctx, client, messageID, map[string]interface{}{"isRead": true})
	case maildomain.MutateStar, maildomain.MutateFlag:
		return a.patch(ctx, client, messageID, map[string]interface{}{
			"flag": map[string]string{"flagStatus": "flagged"},
		})
	case maildomain.MutateAddLabel:
		return a.updateCategories(ctx, client, messageID, op.Label, true)
	case maildomain.MutateRemoveLabel:
		return a.updateCategories(ctx, client, messageID, op.Label, false)
	}
	return fmt.Errorf("unsupported mutation %q", op.Kind)
}

// CreateReplyDraft uses Graph's createReply to inherit threading headers,
// then patches the generated draft with the reply body, then uploads any
// attachments.
func (a *Adapter) CreateReplyDraft(ctx context.Context, acct *accountdomain.EmailAccount, originalID, body string, attachments []maildomain.DraftAttachment) (string, error) {
	client := a.client(ctx, acct)

	var draft struct {
		ID string `json:"id"`
	}
	if err := a.post(ctx, client, a.base+"/me/messages/"+originalID+"/createReply", map[string]interface{}{}, &draft); err != nil {
		return "", fmt.Errorf("unable to create reply draft: %w", err)
	}

	if err := a.patch(ctx, client, draft.ID, map[string]interface{}{
		"body": map[string]string{"contentType": "Text", "content": body},
	}); err != nil {
		return "", fmt.Errorf("unable to set draft body: %w", err)
	}

	for _, att := range attachments {
		payload := map[string]interface{}{
			"@odata.type":  "#microsoft.graph.fileAttachment",
			"name":         att.Filename,
			"contentType":  att.MimeType,
			"contentBytes": base64.StdEncoding.EncodeToString(att.Data),
		}
		if err := a.post(ctx, client, a.base+"/me/messages/"+draft.ID+"/attachments", payload, nil); err != nil {
			return "", fmt.Errorf("unable to attach %s: %w", att.Filename, err)
		}
	}
	return draft.ID, nil
}

// GetProfile resolves the mailbox address behind the account's token.
func (a *Adapter) GetProfile(ctx context.Context, acct *accountdomain.EmailAccount) (*maildomain.Profile, error) {
	client := a.client(ctx, acct)
	var me struct {
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := a.get(ctx, client, a.base+"/me", &me); err != nil {
		return nil, fmt.Errorf("unable to fetch profile: %w", err)
	}
	address := me.Mail
	if address == "" {
		address = me.UserPrincipalName
	}
	return &maildomain.Profile{EmailAddress: address}, nil
}

func (a *Adapter) move(ctx context.Context, client *http.Client, messageID, destination string) error {
	return a.post(ctx, client, a.base+"/me/messages/"+messageID+"/move",
		map[string]string{"destinationId": destination}, nil)
}

// updateCategories reads the current category list and PATCHes the
// modified set, since Graph has no append operation for categories.
func (a *Adapter) updateCategories(ctx context.Context, client *http.Client, messageID, label string, add bool) error {
	var current struct {
		Categories []string `json:"categories"`
	}
	if err := a.get(ctx, client, a.base+"/me/messages/"+messageID+"?$select=categories", &current); err != nil {
		return err
	}

	categories := make([]string, 0, len(current.Categories)+1)
	present := false
	for _, c := range current.Categories {
		if c == label {
			present = true
			if !add {
				continue
			}
		}
		categories = append(categories, c)
	}
	if add && !present {
		categories = append(categories, label)
	}
	return a.patch(ctx, client, messageID, map[string]interface{}{"categories": categories})
}

func (a *Adapter) get(ctx context.Context, client *http.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return a.do(client, req, out)
}

func (a *Adapter) post(ctx context.Context, client *http.Client, rawURL string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(client, req, out)
}

func (a *Adapter) patch(ctx context.Context, client *http.Client, messageID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, a.base+"/me/messages/"+messageID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(client, req, nil)
}

func (a *Adapter) do(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph API error (%d): %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
