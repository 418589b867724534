package usecase

import (
	"fmt"

	accountdomain "mailpilot-backend/internal/account/domain"
	"mailpilot-backend/internal/account/repository"
	maildomain "mailpilot-backend/internal/mail/domain"
	"mailpilot-backend/pkg/config"
	"mailpilot-backend/pkg/vault"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	gmailapi "google.golang.org/api/gmail/v1"
)

var outlookScopes = []string{"offline_access", "User.Read", "Mail.ReadWrite"}

// CredentialResolver resolves the OAuth client credentials for a user and
// provider. Per-user stored credentials win over the system defaults.
type CredentialResolver struct {
	settingsRepo repository.SettingsRepository
	vault        *vault.Vault
	cfg          *config.Config
}

// NewCredentialResolver creates a new CredentialResolver.
func NewCredentialResolver(settingsRepo repository.SettingsRepository, v *vault.Vault, cfg *config.Config) *CredentialResolver {
	return &CredentialResolver{settingsRepo: settingsRepo, vault: v, cfg: cfg}
}

// OAuthConfig builds the oauth2 config for the user's provider connection.
// Returns AuthConfigError when neither the user nor the system has
// credentials configured.
func (r *CredentialResolver) OAuthConfig(userID, provider string) (*oauth2.Config, error) {
	settings, err := r.settingsRepo.GetByUserID(userID)
	if err != nil {
		return nil, &maildomain.PersistenceError{Op: "load user settings", Err: err}
	}

	switch provider {
	case accountdomain.ProviderGmail:
		clientID, clientSecret := settings.GoogleClientID, r.vault.Decrypt(settings.GoogleClientSecret)
		if clientID == "" || clientSecret == "" {
			clientID, clientSecret = r.cfg.GoogleClientID, r.cfg.GoogleClientSecret
		}
		if clientID == "" || clientSecret == "" {
			return nil, &maildomain.AuthConfigError{Provider: provider, Reason: "no client credentials configured"}
		}
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  r.cfg.GoogleRedirectURI,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmailapi.GmailModifyScope, gmailapi.GmailComposeScope},
		}, nil

	case accountdomain.ProviderOutlook:
		clientID, clientSecret := settings.MicrosoftClientID, r.vault.Decrypt(settings.MicrosoftClientSecret)
		if clientID == "" {
			clientID, clientSecret = r.cfg.MicrosoftClientID, r.cfg.MicrosoftClientSecret
		}
		if clientID == "" {
			return nil, &maildomain.AuthConfigError{Provider: provider, Reason: "no client credentials configured"}
		}
		tenant := r.cfg.MicrosoftTenant
		endpoint := microsoft.AzureADEndpoint(tenant)
		endpoint.DeviceAuthURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/devicecode", tenant)
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       outlookScopes,
		}, nil
	}

	return nil, &maildomain.AuthConfigError{Provider: provider, Reason: "unknown provider"}
}
