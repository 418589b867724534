package outlook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/vault"
)

var fetchBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// graphHandler serves a minimal Graph surface: the inbox listing and
// per-message hydration, with selected ids failing hydration.
func graphHandler(t *testing.T, timestamps map[string]time.Time, failHydration map[string]int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/me/mailFolders/inbox/messages"):
			value := make([]map[string]string, 0, len(timestamps))
			for id, ts := range timestamps {
				value = append(value, map[string]string{
					"id":               id,
					"receivedDateTime": ts.UTC().Format(time.RFC3339),
				})
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"value": value})
		case strings.Contains(r.URL.Path, "/me/messages/"):
			id := strings.TrimPrefix(r.URL.Path, "/me/messages/")
			if code, ok := failHydration[id]; ok {
				w.WriteHeader(code)
				return
			}
			ts, ok := timestamps[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id":               id,
				"subject":          "Subject " + id,
				"receivedDateTime": ts.UTC().Format(time.RFC3339),
				"body":             map[string]string{"contentType": "text", "content": "Body " + id},
				"from": map[string]interface{}{
					"emailAddress": map[string]string{"address": "sender@example.com"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	v, err := vault.New("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("vault.New failed: %v", err)
	}
	return &Adapter{vault: v, base: ts.URL}
}

func externalIDs(messages []*maildomain.Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ExternalID
	}
	return ids
}

func TestFetchOldestFirstHydratesOldestAscending(t *testing.T) {
	timestamps := map[string]time.Time{
		"a": fetchBase.Add(1 * time.Minute),
		"b": fetchBase.Add(2 * time.Minute),
		"c": fetchBase.Add(3 * time.Minute),
	}
	a := newTestAdapter(t, graphHandler(t, timestamps, nil))
	acct := &accountdomain.EmailAccount{ID: "acct-1", AccessToken: "token"}

	result, err := a.FetchOldestFirst(context.Background(), acct, maildomain.FetchOptions{
		Limit: 2, MaxCandidates: 10,
	})
	if err != nil {
		t.Fatalf("FetchOldestFirst failed: %v", err)
	}
	if got := externalIDs(result.Messages); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Expected the two oldest ascending [a b], got %v", got)
	}
	if !result.HasMore {
		t.Error("Expected HasMore with a third candidate beyond the limit")
	}
}

func TestFetchOldestFirstEndsBatchAtFailedHydration(t *testing.T) {
	timestamps := map[string]time.Time{
		"a": fetchBase.Add(1 * time.Minute),
		"b": fetchBase.Add(2 * time.Minute),
		"c": fetchBase.Add(3 * time.Minute),
	}
	a := newTestAdapter(t, graphHandler(t, timestamps, map[string]int{"b": http.StatusNotFound}))
	acct := &accountdomain.EmailAccount{ID: "acct-1", AccessToken: "token"}

	result, err := a.FetchOldestFirst(context.Background(), acct, maildomain.FetchOptions{
		Limit: 3, MaxCandidates: 10,
	})
	if err != nil {
		t.Fatalf("FetchOldestFirst failed: %v", err)
	}
	// c hydrated fine but sits beyond the failed b; returning it would let
	// the checkpoint advance past b and lose it for good.
	if got := externalIDs(result.Messages); len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected batch to end before the failed candidate, got %v", got)
	}
	if !result.HasMore {
		t.Error("Expected HasMore after a hydration failure")
	}
}

func TestFetchOldestFirstDropsCheckpointCoveredCandidates(t *testing.T) {
	since := fetchBase.Add(1 * time.Minute)
	// The server ignores $filter, standing in for the second-granularity
	// serialization that can re-list the checkpoint message.
	timestamps := map[string]time.Time{
		"covered": since,
		"fresh":   fetchBase.Add(2 * time.Minute),
	}
	a := newTestAdapter(t, graphHandler(t, timestamps, nil))
	acct := &accountdomain.EmailAccount{ID: "acct-1", AccessToken: "token"}

	result, err := a.FetchOldestFirst(context.Background(), acct, maildomain.FetchOptions{
		Limit: 10, MaxCandidates: 10, Since: &since,
	})
	if err != nil {
		t.Fatalf("FetchOldestFirst failed: %v", err)
	}
	if got := externalIDs(result.Messages); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("Expected only messages strictly after the checkpoint, got %v", got)
	}
}
