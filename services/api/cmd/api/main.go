package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ghazal/internal/ratelimit"
	"ghazal/internal/servicetoken"
	"ghazal/internal/util"
	"ghazal/pkg/auth"
	"ghazal/pkg/email"
	"ghazal/pkg/mq"
	"ghazal/pkg/storage"
	"ghazal/pkg/store"
	"ghazal/services/api/internal/app"
	"ghazal/services/api/internal/config"
	"ghazal/services/api/internal/metrics"
	"ghazal/services/api/internal/realtime"
	"ghazal/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("api", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	verifyKeys, err := auth.ParseKeyFiles(cfg.JWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse jwt verify public keys: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(store.SessionConfig{
		PrivateKeyPath: cfg.JWTPrivateKeyPath,
		PublicKeyPath:  cfg.JWTPublicKeyPath,
		KeyID:          cfg.JWTKeyID,
		VerifyKeyFiles: verifyKeys,
		TTL:            cfg.SessionTTL,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
		Leeway:         cfg.JWTLeeway,
	}, store.NewRedisTokenRevoker(redisClient))
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	mailer, closeMailer, err := newMailer(cfg)
	if err != nil {
		log.Fatalf("failed to init mailer: %v", err)
	}
	defer closeMailer()

	broker, err := realtime.NewBroker(redisClient, "ghazal:notifications")
	if err != nil {
		log.Fatalf("failed to init realtime broker: %v", err)
	}

	loginLimiter, err := ratelimit.NewFixedWindowLimiter(redisClient, "ghazal:ratelimit:login", cfg.LoginRateLimit, cfg.LoginRateWindow)
	if err != nil {
		log.Fatalf("failed to init login limiter: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	appMetrics := metrics.New()

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		Sessions:       sessions,
		Objects:        objects,
		Mailer:         mailer,
		Realtime:       broker,
		Metrics:        appMetrics,
		DownloadURLTTL: cfg.DownloadURLTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Realtime:       broker,
		Metrics:        appMetrics,
		LoginLimiter:   loginLimiter,
		TrustedProxies: trustedProxies,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	go appCore.RunOverdueSweeper(ctx, cfg.OverdueSweepInterval)

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

	slog.Info("api server listening", "addr", addr, "mailer", cfg.MailerTransport)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

// newMailer picks the email transport. The returned close func is never nil.
func newMailer(cfg config.FileConfig) (email.Mailer, func(), error) {
	noop := func() {}
	switch cfg.MailerTransport {
	case config.MailerAMQP:
		pub, err := mq.NewPublisher(cfg.AMQPURL, cfg.EmailQueue)
		if err != nil {
			return nil, noop, err
		}
		return email.NewQueueMailer(pub), func() { _ = pub.Close() }, nil
	case config.MailerHTTP:
		signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
			PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
			KeyID:          cfg.InternalJWTKeyID,
			Issuer:         "api",
			TTL:            cfg.InternalJWTTTL,
		})
		if err != nil {
			return nil, noop, err
		}
		m, err := email.NewHTTPMailer(cfg.MailerURL, signer)
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case config.MailerNone:
		return nil, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown mailer transport %q", cfg.MailerTransport)
}
