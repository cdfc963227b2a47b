package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ghazal/internal/servicetoken"
	"ghazal/internal/util"
	"ghazal/pkg/auth"
	"ghazal/pkg/email"
	"ghazal/pkg/mq"
	"ghazal/services/mailer/internal/app"
	"ghazal/services/mailer/internal/config"
	"ghazal/services/mailer/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("mailer", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender, err := email.NewResendClient(email.ResendConfig{
		BaseURL: cfg.ResendBaseURL,
		APIKey:  cfg.ResendAPIKey,
		From:    cfg.ResendFrom,
		Timeout: cfg.ResendTimeout,
	})
	if err != nil {
		log.Fatalf("failed to init resend client: %v", err)
	}
	appCore, err := app.New(sender)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	verifyKeys, err := auth.ParseKeyFiles(cfg.InternalJWTVerifyKeys)
	if err != nil {
		log.Fatalf("failed to parse internal jwt verify keys: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPath:  cfg.InternalJWTPublicKeyPath,
		KeyID:          cfg.InternalJWTKeyID,
		VerifyKeyFiles: verifyKeys,
		Audience:       "mailer",
		AllowedIssuers: cfg.InternalJWTAllowedIssuers,
		Leeway:         cfg.InternalJWTLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init service token verifier: %v", err)
	}

	var wg sync.WaitGroup
	if cfg.AMQPURL != "" {
		consumer, err := mq.NewConsumer(mq.ConsumerConfig{
			URL:      cfg.AMQPURL,
			Queue:    cfg.EmailQueue,
			Prefetch: cfg.QueuePrefetch,
		})
		if err != nil {
			log.Fatalf("failed to init queue consumer: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx, appCore.HandleEnvelope); err != nil {
				logger.Error("queue consumer stopped", "err", err)
			}
		}()
	}

	httpServer, err := server.New(server.Config{App: appCore, TokenVerifier: verifier})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("mailer server listening", "addr", addr, "queue", cfg.AMQPURL != "")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
	stop()
	wg.Wait()
}
