package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	"mailpilot-backend/internal/account/repository"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/vault"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// defaultSyncWindowDays bounds the initial candidate window for a freshly
// connected account.
const defaultSyncWindowDays = 30

// DeviceFlowStart is the first phase of the device-code connection: show
// the user code, keep the poll handle.
type DeviceFlowStart struct {
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	IntervalSeconds int    `json:"interval_seconds"`
	PollHandle      string `json:"poll_handle"`
}

// Device flow poll outcomes.
const (
	DeviceFlowPending   = "pending"
	DeviceFlowCompleted = "completed"
)

// DeviceFlowResult is one poll of an in-progress device authorization.
type DeviceFlowResult struct {
	Status  string                      `json:"status"`
	Account *accountdomain.EmailAccount `json:"account,omitempty"`
}

// OAuthUsecase drives both connection flows: authorization-code for Gmail
// and the two-phase device-code flow for Outlook. A successful flow
// creates (or reactivates) an EmailAccount with encrypted tokens.
type OAuthUsecase struct {
	accounts  repository.AccountRepository
	creds     *CredentialResolver
	vault     *vault.Vault
	providers map[string]maildomain.Provider
	jwtSecret string
	client    *http.Client
}

// NewOAuthUsecase creates a new OAuthUsecase.
func NewOAuthUsecase(accounts repository.AccountRepository, creds *CredentialResolver, v *vault.Vault, providers map[string]maildomain.Provider, jwtSecret string) *OAuthUsecase {
	return &OAuthUsecase{
		accounts:  accounts,
		creds:     creds,
		vault:     v,
		providers: providers,
		jwtSecret: jwtSecret,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// AuthCodeURL returns the Google consent URL for the user. The state is a
// short-lived signed token so the callback can recover the user without a
// session store.
func (u *OAuthUsecase) AuthCodeURL(userID string) (string, error) {
	conf, err := u.creds.OAuthConfig(userID, accountdomain.ProviderGmail)
	if err != nil {
		return "", err
	}
	state, err := u.signClaims(jwt.MapClaims{
		"user_id": userID,
		"purpose": "oauth_state",
		"exp":     time.Now().Add(10 * time.Minute).Unix(),
		"iat":     time.Now().Unix(),
	})
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// HandleGmailCallback exchanges the authorization code and stores the
// connected account.
func (u *OAuthUsecase) HandleGmailCallback(ctx context.Context, state, code string) (*accountdomain.EmailAccount, error) {
	claims, err := u.parseClaims(state)
	if err != nil || claims["purpose"] != "oauth_state" {
		return nil, errors.New("invalid or expired oauth state")
	}
	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return nil, errors.New("invalid oauth state claims")
	}

	conf, err := u.creds.OAuthConfig(userID, accountdomain.ProviderGmail)
	if err != nil {
		return nil, err
	}
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return u.completeConnection(ctx, userID, accountdomain.ProviderGmail, token)
}

// StartDeviceFlow begins the Outlook device-code authorization and
// returns the user code together with a signed poll handle. The caller
// polls with PollDeviceFlow; no callback crosses the async boundary.
func (u *OAuthUsecase) StartDeviceFlow(ctx context.Context, userID string) (*DeviceFlowStart, error) {
	conf, err := u.creds.OAuthConfig(userID, accountdomain.ProviderOutlook)
	if err != nil {
		return nil, err
	}

	resp, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}

	interval := int(resp.Interval)
	if interval <= 0 {
		interval = 5
	}
	handle, err := u.signClaims(jwt.MapClaims{
		"user_id":     userID,
		"purpose":     "device_flow",
		"device_code": resp.DeviceCode,
		"exp":         resp.Expiry.Unix(),
		"iat":         time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	return &DeviceFlowStart{
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		IntervalSeconds: interval,
		PollHandle:      handle,
	}, nil
}

// PollDeviceFlow performs a single token poll for an in-progress device
// authorization. Pending is a normal outcome; the caller polls again
// after the advertised interval.
func (u *OAuthUsecase) PollDeviceFlow(ctx context.Context, handle string) (*DeviceFlowResult, error) {
	claims, err := u.parseClaims(handle)
	if err != nil || claims["purpose"] != "device_flow" {
		return nil, errors.New("invalid or expired poll handle")
	}
	userID, _ := claims["user_id"].(string)
	deviceCode, _ := claims["device_code"].(string)
	if userID == "" || deviceCode == "" {
		return nil, errors.New("invalid poll handle claims")
	}

	conf, err := u.creds.OAuthConfig(userID, accountdomain.ProviderOutlook)
	if err != nil {
		return nil, err
	}

	token, pending, err := u.pollDeviceToken(ctx, conf, deviceCode)
	if err != nil {
		return nil, err
	}
	if pending {
		return &DeviceFlowResult{Status: DeviceFlowPending}, nil
	}

	acct, err := u.completeConnection(ctx, userID, accountdomain.ProviderOutlook, token)
	if err != nil {
		return nil, err
	}
	return &DeviceFlowResult{Status: DeviceFlowCompleted, Account: acct}, nil
}

// pollDeviceToken issues one device_code grant request. The standard
// library helper polls in a blocking loop, which does not fit the
// two-phase API, so the single request is made directly.
func (u *OAuthUsecase) pollDeviceToken(ctx context.Context, conf *oauth2.Config, deviceCode string) (*oauth2.Token, bool, error) {
	form := url.Values{
		"client_id":   {conf.ClientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
	}
	if conf.ClientSecret != "" {
		form.Set("client_secret", conf.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("device token poll failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
		Error        string `json:"error"`
		ErrorDesc    string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("device token response unreadable: %w", err)
	}

	switch body.Error {
	case "":
	case "authorization_pending", "slow_down":
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("device authorization rejected: %s (%s)", body.Error, body.ErrorDesc)
	}

	token := &oauth2.Token{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		TokenType:    "Bearer",
	}
	if body.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	}
	if body.Scope != "" {
		token = token.WithExtra(map[string]interface{}{"scope": body.Scope})
	}
	return token, false, nil
}

// completeConnection resolves the mailbox address behind the new token
// and upserts the EmailAccount with encrypted credentials.
func (u *OAuthUsecase) completeConnection(ctx context.Context, userID, provider string, token *oauth2.Token) (*accountdomain.EmailAccount, error) {
	encAccess, err := u.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	encRefresh := ""
	if token.RefreshToken != "" {
		if encRefresh, err = u.vault.Encrypt(token.RefreshToken); err != nil {
			return nil, err
		}
	}

	var expiresAt *time.Time
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		expiresAt = &expiry
	}
	scopes, _ := token.Extra("scope").(string)

	probe := &accountdomain.EmailAccount{
		UserID:      userID,
		Provider:    provider,
		AccessToken: encAccess,
	}
	adapter, ok := u.providers[provider]
	if !ok {
		return nil, &maildomain.AuthConfigError{Provider: provider, Reason: "no adapter registered"}
	}
	profile, err := adapter.GetProfile(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve mailbox profile: %w", err)
	}

	existing, err := u.accounts.FindByUserAndAddress(userID, provider, profile.EmailAddress)
	if err != nil {
		return nil, &maildomain.PersistenceError{Op: "look up account", Err: err}
	}
	if existing != nil {
		existing.AccessToken = encAccess
		if encRefresh != "" {
			existing.RefreshToken = encRefresh
		}
		existing.TokenExpiresAt = expiresAt
		existing.Scopes = scopes
		existing.IsActive = true
		existing.LastSyncError = ""
		if err := u.accounts.Update(existing); err != nil {
			return nil, &maildomain.PersistenceError{Op: "reactivate account", Err: err}
		}
		return existing, nil
	}

	windowStart := time.Now().AddDate(0, 0, -defaultSyncWindowDays)
	account := &accountdomain.EmailAccount{
		UserID:           userID,
		Provider:         provider,
		EmailAddress:     profile.EmailAddress,
		AccessToken:      encAccess,
		RefreshToken:     encRefresh,
		TokenExpiresAt:   expiresAt,
		Scopes:           scopes,
		IsActive:         true,
		SyncStartDate:    &windowStart,
		MaxEmailsPerSync: 50,
	}
	if err := u.accounts.Create(account); err != nil {
		return nil, &maildomain.PersistenceError{Op: "create account", Err: err}
	}
	return account, nil
}

// Disconnect deactivates and removes an account along with its scoped
// emails and logs.
func (u *OAuthUsecase) Disconnect(accountID string) error {
	return u.accounts.Delete(accountID)
}

func (u *OAuthUsecase) signClaims(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(u.jwtSecret))
}

func (u *OAuthUsecase) parseClaims(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(u.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
