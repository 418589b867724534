package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/vault"

	"golang.org/x/oauth2"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

type fakeAccountRepo struct {
	accounts map[string]*accountdomain.EmailAccount

	updatedAccess  string
	updatedRefresh string
	updatedExpiry  *time.Time
	updateCalls    int
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*accountdomain.EmailAccount)}
}

func (f *fakeAccountRepo) Create(a *accountdomain.EmailAccount) error {
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeAccountRepo) Update(a *accountdomain.EmailAccount) error {
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeAccountRepo) FindByID(id string) (*accountdomain.EmailAccount, error) {
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) FindByUserAndAddress(userID, provider, address string) (*accountdomain.EmailAccount, error) {
	for _, a := range f.accounts {
		if a.UserID == userID && a.Provider == provider && a.EmailAddress == address {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) ListByUserID(userID string) ([]*accountdomain.EmailAccount, error) {
	var out []*accountdomain.EmailAccount
	for _, a := range f.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) ListActive() ([]*accountdomain.EmailAccount, error) {
	var out []*accountdomain.EmailAccount
	for _, a := range f.accounts {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) UpdateTokens(id, accessToken, refreshToken string, expiresAt *time.Time) error {
	f.updateCalls++
	f.updatedAccess = accessToken
	f.updatedRefresh = refreshToken
	f.updatedExpiry = expiresAt
	return nil
}

func (f *fakeAccountRepo) AdvanceCheckpoint(id string, checkpoint time.Time) error {
	if a, ok := f.accounts[id]; ok {
		if a.LastSyncedAt == nil || !a.LastSyncedAt.After(checkpoint) {
			ts := checkpoint
			a.LastSyncedAt = &ts
		}
	}
	return nil
}

func (f *fakeAccountRepo) SetSyncStatus(id, status, errMsg string) error {
	if a, ok := f.accounts[id]; ok {
		a.LastSyncStatus = status
		a.LastSyncError = errMsg
	}
	return nil
}

func (f *fakeAccountRepo) Delete(id string) error {
	delete(f.accounts, id)
	return nil
}

type fakeResolver struct {
	conf *oauth2.Config
	err  error
}

func (f *fakeResolver) OAuthConfig(userID, provider string) (*oauth2.Config, error) {
	return f.conf, f.err
}

func newTestTokenService(t *testing.T, tokenURL string) (*TokenService, *fakeAccountRepo, *vault.Vault) {
	t.Helper()
	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatalf("Failed to create vault: %v", err)
	}
	repo := newFakeAccountRepo()
	resolver := &fakeResolver{conf: &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}}
	return NewTokenService(repo, resolver, v), repo, v
}

func testAccount(t *testing.T, v *vault.Vault, expiresIn *time.Duration, refreshToken string) *accountdomain.EmailAccount {
	t.Helper()
	acct := &accountdomain.EmailAccount{
		ID:       "acct-1",
		UserID:   "user-1",
		Provider: accountdomain.ProviderGmail,
		IsActive: true,
	}
	if expiresIn != nil {
		expiry := time.Now().Add(*expiresIn)
		acct.TokenExpiresAt = &expiry
	}
	if refreshToken != "" {
		enc, err := v.Encrypt(refreshToken)
		if err != nil {
			t.Fatalf("Failed to encrypt refresh token: %v", err)
		}
		acct.RefreshToken = enc
	}
	return acct
}

func TestEnsureValidTokenNoExpiryReturnsUnchanged(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()

	svc, repo, v := newTestTokenService(t, ts.URL)
	acct := testAccount(t, v, nil, "refresh")

	got, err := svc.EnsureValidToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if got != acct {
		t.Error("Expected the same account returned")
	}
	if calls != 0 || repo.updateCalls != 0 {
		t.Errorf("Expected no refresh, got %d HTTP calls and %d updates", calls, repo.updateCalls)
	}
}

func TestEnsureValidTokenFreshTokenNotRefreshed(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer ts.Close()

	svc, repo, v := newTestTokenService(t, ts.URL)
	in10 := 10 * time.Minute
	acct := testAccount(t, v, &in10, "refresh")

	if _, err := svc.EnsureValidToken(context.Background(), acct); err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if calls != 0 || repo.updateCalls != 0 {
		t.Errorf("Expected no refresh for a fresh token, got %d HTTP calls and %d updates", calls, repo.updateCalls)
	}
}

func TestEnsureValidTokenRefreshesInsideBuffer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse refresh form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("Expected grant_type refresh_token, got %q", got)
		}
		if got := r.FormValue("refresh_token"); got != "old-refresh" {
			t.Errorf("Expected refresh token old-refresh, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600,"refresh_token":"rotated-refresh"}`))
	}))
	defer ts.Close()

	svc, repo, v := newTestTokenService(t, ts.URL)
	in2 := 2 * time.Minute
	acct := testAccount(t, v, &in2, "old-refresh")

	got, err := svc.EnsureValidToken(context.Background(), acct)
	if err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if repo.updateCalls != 1 {
		t.Fatalf("Expected one token persist, got %d", repo.updateCalls)
	}
	if plain := v.Decrypt(repo.updatedAccess); plain != "new-access" {
		t.Errorf("Expected persisted access token new-access, got %q", plain)
	}
	if plain := v.Decrypt(repo.updatedRefresh); plain != "rotated-refresh" {
		t.Errorf("Expected rotated refresh token persisted, got %q", plain)
	}
	if repo.updatedExpiry == nil || !repo.updatedExpiry.After(time.Now().Add(30*time.Minute)) {
		t.Error("Expected persisted expiry about an hour out")
	}
	if got.TokenExpiresAt == nil || !got.TokenExpiresAt.After(time.Now()) {
		t.Error("Expected returned account to carry the new expiry")
	}
}

func TestEnsureValidTokenUnrotatedRefreshNotPersisted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600,"refresh_token":"old-refresh"}`))
	}))
	defer ts.Close()

	svc, repo, v := newTestTokenService(t, ts.URL)
	in1 := time.Minute
	acct := testAccount(t, v, &in1, "old-refresh")

	if _, err := svc.EnsureValidToken(context.Background(), acct); err != nil {
		t.Fatalf("EnsureValidToken failed: %v", err)
	}
	if repo.updatedRefresh != "" {
		t.Errorf("Expected unrotated refresh token left alone, got %q", repo.updatedRefresh)
	}
}

func TestEnsureValidTokenMissingRefreshTokenIsTerminal(t *testing.T) {
	svc, _, v := newTestTokenService(t, "http://localhost:1")
	in1 := time.Minute
	acct := testAccount(t, v, &in1, "")

	_, err := svc.EnsureValidToken(context.Background(), acct)
	var expired *maildomain.TokenExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("Expected TokenExpiredError, got %v", err)
	}
	if expired.AccountID != "acct-1" {
		t.Errorf("Expected account id in error, got %q", expired.AccountID)
	}
}

func TestEnsureValidTokenRefreshRejectionIsTerminal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer ts.Close()

	svc, repo, v := newTestTokenService(t, ts.URL)
	past := -time.Minute
	acct := testAccount(t, v, &past, "revoked-refresh")

	_, err := svc.EnsureValidToken(context.Background(), acct)
	var expired *maildomain.TokenExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("Expected TokenExpiredError, got %v", err)
	}
	if repo.updateCalls != 0 {
		t.Errorf("Expected no token persist after rejection, got %d", repo.updateCalls)
	}
}
