package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"ghazal/internal/ratelimit"
	"ghazal/internal/usertoken"
	"ghazal/internal/util"
	"ghazal/pkg/ai"
	"ghazal/services/assistant/internal/app"
	"ghazal/services/assistant/internal/config"
	"ghazal/services/assistant/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("assistant", cfg.LogLevel)

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     cfg.JWTLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}

	chat, err := ai.NewOpenAICompatChat(ai.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     cfg.LLMTimeout,
	})
	if err != nil {
		log.Fatalf("failed to init llm client: %v", err)
	}

	appCfg := app.Config{Chat: chat, CatalogTTL: cfg.CatalogCacheTTL}
	if cfg.CatalogURL != "" {
		catalog, err := app.NewHTTPCatalog(cfg.CatalogURL, &http.Client{Timeout: 5 * time.Second})
		if err != nil {
			log.Fatalf("failed to init catalog client: %v", err)
		}
		appCfg.Catalog = catalog
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	var limiter server.Limiter
	if cfg.ChatRateLimit > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "ghazal:ratelimit:chat", cfg.ChatRateLimit, cfg.ChatRateWindow)
		if err != nil {
			log.Fatalf("failed to init chat limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		Limiter:        limiter,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("assistant server listening", "addr", addr, "catalog", cfg.CatalogURL != "")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
