package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	api "mailpilot-backend/cmd/api"
	accountdomain "mailpilot-backend/internal/account/domain"
	accountRepo "mailpilot-backend/internal/account/repository"
	accountUsecase "mailpilot-backend/internal/account/usecase"
	maildomain "mailpilot-backend/internal/mail/domain"
	mailRepo "mailpilot-backend/internal/mail/repository"
	mailUsecase "mailpilot-backend/internal/mail/usecase"
	"mailpilot-backend/internal/scheduler"
	"mailpilot-backend/pkg/ai"
	"mailpilot-backend/pkg/config"
	"mailpilot-backend/pkg/database"
	"mailpilot-backend/pkg/gmail"
	"mailpilot-backend/pkg/normalizer"
	"mailpilot-backend/pkg/outlook"
	"mailpilot-backend/pkg/vault"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(
		&accountdomain.EmailAccount{},
		&accountdomain.UserSettings{},
		&maildomain.Email{},
		&maildomain.Rule{},
		&maildomain.ProcessingLog{},
		&maildomain.ProcessingEvent{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Token vault for OAuth credentials at rest
	tokenVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatal("Failed to initialize token vault:", err)
	}

	// Initialize repositories (dependency injection)
	accounts := accountRepo.NewAccountRepository(db)
	settings := accountRepo.NewSettingsRepository(db)
	emails := mailRepo.NewEmailRepository(db)
	rules := mailRepo.NewRuleRepository(db)
	processing := mailRepo.NewProcessingRepository(db)

	// Provider adapters
	providers := map[string]maildomain.Provider{
		accountdomain.ProviderGmail:   gmail.NewAdapter(tokenVault),
		accountdomain.ProviderOutlook: outlook.NewAdapter(tokenVault),
	}

	// Classifier; a model outage degrades sync to unclassified messages
	classifier := ai.NewClassifier(ai.Config{
		Provider:      ai.ProviderType(cfg.AIProvider),
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,
	})

	// Initialize use cases (dependency injection)
	credentials := accountUsecase.NewCredentialResolver(settings, tokenVault, cfg)
	tokens := accountUsecase.NewTokenService(accounts, credentials, tokenVault)
	oauth := accountUsecase.NewOAuthUsecase(accounts, credentials, tokenVault, providers, cfg.JWTSecret)

	syncer := mailUsecase.NewSyncService(
		accounts, settings, emails, rules, processing,
		providers, tokens, classifier, normalizer.New(),
	)

	// Background sync and retention
	syncScheduler := scheduler.NewSyncScheduler(
		accounts, settings, emails, processing, syncer,
		cfg.SyncInterval, cfg.CleanupInterval, cfg.LogRetention, cfg.TrashRetention,
		cfg.MaxConcurrent,
	)
	syncScheduler.Start()

	// Graceful shutdown for the scheduler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[Main] Shutting down")
		syncScheduler.Stop()
		os.Exit(0)
	}()

	// Initialize HTTP handler
	settingsHandler := api.NewSettingsHandler(settings, tokenVault)
	handler := api.NewHandler(oauth, syncer, accounts, rules, emails, processing, settingsHandler, classifier, cfg)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
