package api

import (
	"net/http"

	accountrepo "mailpilot-backend/internal/account/repository"
	"mailpilot-backend/pkg/vault"

	"github.com/gin-gonic/gin"
)

// SettingsHandler serves per-user sync preferences and bring-your-own
// OAuth credentials. Client secrets are encrypted before they hit the
// database and never echoed back.
type SettingsHandler struct {
	settings accountrepo.SettingsRepository
	vault    *vault.Vault
}

func NewSettingsHandler(settings accountrepo.SettingsRepository, v *vault.Vault) *SettingsHandler {
	return &SettingsHandler{settings: settings, vault: v}
}

func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.GetByUserID(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

type settingsRequest struct {
	SyncIntervalMinutes *int  `json:"sync_interval_minutes"`
	AutoClassify        *bool `json:"auto_classify"`
	AutoDraftReplies    *bool `json:"auto_draft_replies"`

	GoogleClientID        *string `json:"google_client_id"`
	GoogleClientSecret    *string `json:"google_client_secret"`
	MicrosoftClientID     *string `json:"microsoft_client_id"`
	MicrosoftClientSecret *string `json:"microsoft_client_secret"`
}

func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	settings, err := h.settings.GetByUserID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.SyncIntervalMinutes != nil {
		if *req.SyncIntervalMinutes < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sync_interval_minutes must be at least 1"})
			return
		}
		settings.SyncIntervalMinutes = *req.SyncIntervalMinutes
	}
	if req.AutoClassify != nil {
		settings.AutoClassify = *req.AutoClassify
	}
	if req.AutoDraftReplies != nil {
		settings.AutoDraftReplies = *req.AutoDraftReplies
	}
	if req.GoogleClientID != nil {
		settings.GoogleClientID = *req.GoogleClientID
	}
	if req.GoogleClientSecret != nil {
		if err := h.setSecret(&settings.GoogleClientSecret, *req.GoogleClientSecret); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MicrosoftClientID != nil {
		settings.MicrosoftClientID = *req.MicrosoftClientID
	}
	if req.MicrosoftClientSecret != nil {
		if err := h.setSecret(&settings.MicrosoftClientSecret, *req.MicrosoftClientSecret); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.settings.Upsert(settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *SettingsHandler) setSecret(dst *string, plaintext string) error {
	if plaintext == "" {
		*dst = ""
		return nil
	}
	encrypted, err := h.vault.Encrypt(plaintext)
	if err != nil {
		return err
	}
	*dst = encrypted
	return nil
}
