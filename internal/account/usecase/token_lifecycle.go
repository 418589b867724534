package usecase

import (
	"context"
	"log"
	"time"

	accountdomain "mailpilot-backend/internal/account/domain"
	"mailpilot-backend/internal/account/repository"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/vault"

	"golang.org/x/oauth2"
)

// refreshExpiryBuffer is how close to expiry a token may get before a
// refresh is forced.
const refreshExpiryBuffer = 5 * time.Minute

// OAuthConfigResolver resolves the oauth2 client configuration for a
// user's provider connection. Satisfied by CredentialResolver.
type OAuthConfigResolver interface {
	OAuthConfig(userID, provider string) (*oauth2.Config, error)
}

// TokenService keeps an account's access token valid, refreshing it when
// it is inside the expiry buffer.
type TokenService struct {
	accounts repository.AccountRepository
	creds    OAuthConfigResolver
	vault    *vault.Vault
}

// NewTokenService creates a new TokenService.
func NewTokenService(accounts repository.AccountRepository, creds OAuthConfigResolver, v *vault.Vault) *TokenService {
	return &TokenService{accounts: accounts, creds: creds, vault: v}
}

// EnsureValidToken returns the account with a currently valid access
// token, refreshing and persisting first if needed.
//
// Accounts without a stored expiry are assumed to use a token model the
// provider library manages itself and are returned unchanged. Accounts
// whose token cannot be refreshed fail with TokenExpiredError: a terminal,
// user-visible condition, never retried automatically.
func (s *TokenService) EnsureValidToken(ctx context.Context, acct *accountdomain.EmailAccount) (*accountdomain.EmailAccount, error) {
	if acct.TokenExpiresAt == nil {
		return acct, nil
	}
	if time.Now().Add(refreshExpiryBuffer).Before(*acct.TokenExpiresAt) {
		return acct, nil
	}

	refreshToken := s.vault.Decrypt(acct.RefreshToken)
	if refreshToken == "" {
		return nil, &maildomain.TokenExpiredError{AccountID: acct.ID}
	}

	conf, err := s.creds.OAuthConfig(acct.UserID, acct.Provider)
	if err != nil {
		return nil, err
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, &maildomain.TokenExpiredError{AccountID: acct.ID, Err: err}
	}

	encAccess, err := s.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, &maildomain.PersistenceError{Op: "encrypt access token", Err: err}
	}

	// Providers may rotate the refresh token on use; persist it when they do.
	encRefresh := ""
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		encRefresh, err = s.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return nil, &maildomain.PersistenceError{Op: "encrypt refresh token", Err: err}
		}
	}

	expiry := token.Expiry
	if err := s.accounts.UpdateTokens(acct.ID, encAccess, encRefresh, &expiry); err != nil {
		return nil, &maildomain.PersistenceError{Op: "persist refreshed tokens", Err: err}
	}

	log.Printf("[Token] refreshed access token for account %s (%s)", acct.ID, acct.Provider)

	acct.AccessToken = encAccess
	if encRefresh != "" {
		acct.RefreshToken = encRefresh
	}
	acct.TokenExpiresAt = &expiry
	return acct, nil
}
