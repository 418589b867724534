package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	accountdomain "mailpilot-backend/internal/account/domain"
	accountrepo "mailpilot-backend/internal/account/repository"
	accountusecase "mailpilot-backend/internal/account/usecase"
	maildomain "mailpilot-backend/internal/mail/domain"
	mailrepo "mailpilot-backend/internal/mail/repository"
	mailusecase "mailpilot-backend/internal/mail/usecase"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/config"
	"mailpilot-backend/pkg/fuzzy"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	oauth      *accountusecase.OAuthUsecase
	syncer     *mailusecase.SyncService
	accounts   accountrepo.AccountRepository
	rules      mailrepo.RuleRepository
	emails     mailrepo.EmailRepository
	processing mailrepo.ProcessingRepository
	settings   *SettingsHandler
	classifier ai.Classifier
	config     *config.Config
}

func NewHandler(
	oauth *accountusecase.OAuthUsecase,
	syncer *mailusecase.SyncService,
	accounts accountrepo.AccountRepository,
	rules mailrepo.RuleRepository,
	emails mailrepo.EmailRepository,
	processing mailrepo.ProcessingRepository,
	settingsHandler *SettingsHandler,
	classifier ai.Classifier,
	cfg *config.Config,
) *Handler {
	return &Handler{
		oauth:      oauth,
		syncer:     syncer,
		accounts:   accounts,
		rules:      rules,
		emails:     emails,
		processing: processing,
		settings:   settingsHandler,
		classifier: classifier,
		config:     cfg,
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h)
	return r.Run(addr)
}

// GetGmailAuthURL returns the Google consent URL for the caller.
func (h *Handler) GetGmailAuthURL(c *gin.Context) {
	userID := c.GetString("userID")
	url, err := h.oauth.AuthCodeURL(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// GmailCallback completes the authorization-code flow. Unauthenticated:
// the signed state parameter carries the user identity.
func (h *Handler) GmailCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state and code are required"})
		return
	}
	account, err := h.oauth.HandleGmailCallback(c.Request.Context(), state, code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

// StartOutlookDeviceFlow begins the device-code connection and returns
// the user code plus a poll handle.
func (h *Handler) StartOutlookDeviceFlow(c *gin.Context) {
	userID := c.GetString("userID")
	start, err := h.oauth.StartDeviceFlow(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, start)
}

// PollOutlookDeviceFlow performs one authorization poll.
func (h *Handler) PollOutlookDeviceFlow(c *gin.Context) {
	var req struct {
		PollHandle string `json:"poll_handle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "poll_handle is required"})
		return
	}
	result, err := h.oauth.PollDeviceFlow(c.Request.Context(), req.PollHandle)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListAccounts returns the caller's connected accounts.
func (h *Handler) ListAccounts(c *gin.Context) {
	userID := c.GetString("userID")
	accounts, err := h.accounts.ListByUserID(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

// SyncAccount triggers a manual sync run and returns its closed log.
func (h *Handler) SyncAccount(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}
	plog, err := h.syncer.SyncAccount(c.Request.Context(), acct.ID)
	if err != nil {
		if errors.Is(err, maildomain.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		// A failed run still produced a log worth returning.
		if plog != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "log": plog})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": plog})
}

// DisconnectAccount removes the account and all of its local data.
func (h *Handler) DisconnectAccount(c *gin.Context) {
	acct, ok := h.ownedAccount(c)
	if !ok {
		return
	}
	if err := h.oauth.Disconnect(acct.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "account disconnected"})
}

// ListEmails returns processed emails for one of the caller's accounts.
// With ?q= the result is fuzzy-filtered and ranked by relevance.
func (h *Handler) ListEmails(c *gin.Context) {
	acct, ok := h.ownedAccountByQuery(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	query := strings.TrimSpace(c.Query("q"))

	fetchLimit := limit
	if query != "" {
		// Filter in memory over a wider window so ranking sees enough rows.
		fetchLimit = 0
	}
	emails, err := h.emails.ListByAccount(acct.ID, fetchLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	if query != "" {
		var matched []*maildomain.Email
		for _, e := range emails {
			if fuzzy.MatchEmail(query, e.Subject, e.Sender, e.CleanBody) {
				matched = append(matched, e)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool {
			return fuzzy.Score(query, matched[i].Subject, matched[i].Sender) >
				fuzzy.Score(query, matched[j].Subject, matched[j].Sender)
		})
		if limit > 0 && len(matched) > limit {
			matched = matched[:limit]
		}
		emails = matched
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

// ListLogs returns the caller's sync run history.
func (h *Handler) ListLogs(c *gin.Context) {
	userID := c.GetString("userID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	logs, err := h.processing.ListLogsByUser(userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

type ruleRequest struct {
	Name          string `json:"name"`
	Field         string `json:"field" binding:"required"`
	Value         string `json:"value" binding:"required"`
	OlderThanDays *int   `json:"older_than_days"`
	Actions       string `json:"actions" binding:"required"`
	IsEnabled     *bool  `json:"is_enabled"`
	Instructions  string `json:"instructions"`
	Attachments   string `json:"attachments"`
}

var validRuleFields = map[string]bool{
	maildomain.FieldCategory:        true,
	maildomain.FieldSentiment:       true,
	maildomain.FieldPriority:        true,
	maildomain.FieldSender:          true,
	maildomain.FieldSenderDomain:    true,
	maildomain.FieldSenderContains:  true,
	maildomain.FieldSubjectContains: true,
	maildomain.FieldBodyContains:    true,
}

var validRuleActions = map[string]bool{
	maildomain.ActionArchive: true,
	maildomain.ActionDelete:  true,
	maildomain.ActionDraft:   true,
	maildomain.ActionStar:    true,
	maildomain.ActionRead:    true,
}

func (req *ruleRequest) validate() string {
	if !validRuleFields[req.Field] {
		return "unknown rule field"
	}
	rule := maildomain.Rule{Actions: req.Actions}
	actions := rule.ActionList()
	if len(actions) == 0 {
		return "at least one action is required"
	}
	for _, a := range actions {
		if !validRuleActions[a] {
			return "unknown action " + a
		}
	}
	return ""
}

// CreateRule stores a new automation rule for the caller.
func (h *Handler) CreateRule(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}
	rule := &maildomain.Rule{
		ID:            uuid.New().String(),
		UserID:        c.GetString("userID"),
		Name:          req.Name,
		Field:         req.Field,
		Value:         req.Value,
		OlderThanDays: req.OlderThanDays,
		Actions:       req.Actions,
		IsEnabled:     enabled,
		Instructions:  req.Instructions,
		Attachments:   req.Attachments,
	}
	if err := h.rules.Create(rule); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// ListRules returns all of the caller's rules, enabled or not.
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListByUser(c.GetString("userID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// UpdateRule replaces an existing rule's definition.
func (h *Handler) UpdateRule(c *gin.Context) {
	rule, ok := h.ownedRule(c)
	if !ok {
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	rule.Name = req.Name
	rule.Field = req.Field
	rule.Value = req.Value
	rule.OlderThanDays = req.OlderThanDays
	rule.Actions = req.Actions
	rule.Instructions = req.Instructions
	rule.Attachments = req.Attachments
	if req.IsEnabled != nil {
		rule.IsEnabled = *req.IsEnabled
	}
	if err := h.rules.Update(rule); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(c *gin.Context) {
	rule, ok := h.ownedRule(c)
	if !ok {
		return
	}
	if err := h.rules.Delete(rule.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted"})
}

// AIHealth checks connectivity to the configured classifier.
func (h *Handler) AIHealth(c *gin.Context) {
	if h.classifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unconfigured"})
		return
	}
	if err := h.classifier.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unreachable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ownedAccount(c *gin.Context) (*accountdomain.EmailAccount, bool) {
	return h.loadOwnedAccount(c, c.Param("id"))
}

func (h *Handler) ownedAccountByQuery(c *gin.Context) (*accountdomain.EmailAccount, bool) {
	return h.loadOwnedAccount(c, c.Query("account_id"))
}

func (h *Handler) loadOwnedAccount(c *gin.Context, id string) (*accountdomain.EmailAccount, bool) {
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id is required"})
		return nil, false
	}
	acct, err := h.accounts.FindByID(id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if acct == nil || acct.UserID != c.GetString("userID") {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return nil, false
	}
	return acct, true
}

func (h *Handler) ownedRule(c *gin.Context) (*maildomain.Rule, bool) {
	rule, err := h.rules.FindByID(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if rule == nil || rule.UserID != c.GetString("userID") {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return nil, false
	}
	return rule, true
}

// respondError maps domain error types onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var authErr *maildomain.AuthConfigError
	var tokenErr *maildomain.TokenExpiredError
	var fetchErr *maildomain.ProviderFetchError

	switch {
	case errors.As(err, &authErr):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.As(err, &tokenErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &fetchErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
