package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ghazal/internal/usertoken"
	"ghazal/internal/util"
	"ghazal/pkg/ai"
	"ghazal/pkg/queue"
	"ghazal/pkg/storage"
	"ghazal/services/audiobook/internal/app"
	"ghazal/services/audiobook/internal/config"
	"ghazal/services/audiobook/internal/server"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("audiobook", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

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

	speech, err := ai.NewOpenAISpeech(ai.SpeechConfig{
		BaseURL:       cfg.TTSBaseURL,
		APIKey:        cfg.TTSAPIKey,
		Model:         cfg.TTSModel,
		Timeout:       cfg.TTSTimeout,
		MaxAudioBytes: cfg.MaxAudioBytes,
	})
	if err != nil {
		log.Fatalf("failed to init speech client: %v", err)
	}

	// The queue needs the app's failure hook and the app needs the queue.
	var appCore *app.App
	jobs, err := queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{
		Stream:     cfg.QueueStream,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		ClaimIdle:  cfg.QueueClaimIdle,
		OnFailed: func(ctx context.Context, job queue.Job, err error) {
			appCore.OnFailed(ctx, job, err)
		},
	})
	if err != nil {
		log.Fatalf("failed to init queue: %v", err)
	}

	appCore, err = app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Objects:     objects,
		Queue:       jobs,
		Speech:      speech,
		Concurrency: cfg.SegmentConcurrency,
		AudioURLTTL: cfg.AudioURLTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

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

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	jobs.Start(ctx, cfg.WorkerConcurrency, appCore.Process)

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

	slog.Info("audiobook server listening", "addr", addr, "workers", cfg.WorkerConcurrency)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
	stop()
	jobs.Wait()
}
