package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"ghazal/internal/usertoken"
	"ghazal/internal/util"
	"ghazal/services/extract/internal/app"
	"ghazal/services/extract/internal/config"
	"ghazal/services/extract/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("extract", cfg.LogLevel)

	var tokenVerifier *usertoken.Verifier
	if cfg.JWKSURL != "" {
		tokenVerifier, err = usertoken.NewVerifier(usertoken.Config{
			JWKSURL:    cfg.JWKSURL,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			Leeway:     cfg.JWTLeeway,
			HTTPClient: &http.Client{Timeout: 5 * time.Second},
		})
		if err != nil {
			log.Fatalf("failed to init jwks verifier: %v", err)
		}
	}

	appCore := app.New(app.Config{
		MaxCharacters: cfg.MaxCharacters,
		PdftotextPath: cfg.PdftotextPath,
		TempDir:       cfg.TempDir,
	})
	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("extract server listening", "addr", addr, "auth", tokenVerifier != nil)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
