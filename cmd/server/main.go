package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arceon/internal/cleanup"
	"github.com/arceon/internal/config"
	"github.com/arceon/internal/db"
	"github.com/arceon/internal/domain"
	"github.com/arceon/internal/github"
	"github.com/arceon/internal/http"
	"github.com/arceon/internal/logger"
	"github.com/arceon/internal/metrics"
	"github.com/arceon/internal/oauth2client"
	"github.com/arceon/internal/service"
	"github.com/arceon/internal/session"
	"github.com/joho/godotenv"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// Optional, won't error if missing
	envErr := godotenv.Load(envFile)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.InitLogger("production", true).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	appLogger := logger.InitLogger(cfg.Environment, cfg.LogJSON)
	if envErr != nil {
		appLogger.Debug("no env file loaded", "file", envFile, "error", envErr)
	}

	if err := cfg.Validate(); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	appLogger.Info("configuration loaded",
		"environment", cfg.Environment,
		"server_address", cfg.ServerAddress,
		"github_login", cfg.Auth.Enabled(),
		"upstream", cfg.Upstream.BaseURL,
		"upstream_timeout", cfg.Upstream.Timeout,
		"status_passthrough", cfg.Upstream.PassThroughStatus,
		"token_encryption", cfg.Auth.TokenEncryptionKey != "",
	)

	// Initialize database
	database, err := db.Init(cfg.DatabasePath)
	if err != nil {
		appLogger.Error("failed to initialize database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer database.Close()
	appLogger.Info("database ready", "path", database.GetDBPath())

	m := metrics.NewMetrics()

	// Token store
	encryptionKey, _ := cfg.Auth.EncryptionKey() // validated above
	tokens, err := oauth2client.NewService(database, encryptionKey, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize token store", "error", err)
		os.Exit(1)
	}
	tokens.SetMetrics(m)

	oauthCfg := session.NewGitHubOAuthConfig(cfg.Auth)
	if oauthCfg != nil {
		tokens.RegisterClient(domain.RegistrationGitHub, oauthCfg)
	} else {
		appLogger.Warn("GITHUB_CLIENT_ID/GITHUB_CLIENT_SECRET not set - GitHub login is disabled")
	}

	// Upstream GitHub API
	githubClient, err := github.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	if err != nil {
		appLogger.Error("failed to create GitHub client", "error", err)
		os.Exit(1)
	}

	proxyService := service.NewProxyService(tokens, githubClient, m, appLogger)
	sessions := session.NewAuthenticator(cfg.Auth, tokens, appLogger)
	login := session.NewLoginFlow(cfg.Auth, oauthCfg, sessions, tokens, githubClient, appLogger)

	// Housekeeping
	purge, err := cleanup.NewScheduler(tokens, cfg.Cleanup.Schedule, cfg.Cleanup.PurgeAfter, m, appLogger)
	if err != nil {
		appLogger.Error("failed to schedule token purge", "error", err)
		os.Exit(1)
	}
	purge.Start()

	server := http.NewServer(cfg, proxyService, sessions, login, m)

	go func() {
		appLogger.Info("server listening", "address", cfg.ServerAddress)
		if err := server.Run(); err != nil {
			appLogger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Error("server shutdown error", "error", err)
	}
	purge.Stop(ctx)
	appLogger.Info("server stopped")
}
