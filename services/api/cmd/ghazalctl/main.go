package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ghazal/internal/util"
	"ghazal/pkg/auth"
	"ghazal/pkg/storage"
	"ghazal/pkg/store"
	"ghazal/services/api/internal/app"
	"ghazal/services/api/internal/cli"
	"ghazal/services/api/internal/config"
	"ghazal/services/api/internal/realtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// open builds the app against the same Postgres, Redis and MinIO the api
// server uses, so promotions revoke live sessions and sweeps reach open
// notification streams.
func open(_ context.Context, configPath string) (*cli.Runtime, error) {
	if configPath == "" {
		configPath = config.Path()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	util.InitLogger("ghazalctl", cfg.LogLevel)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	verifyKeys, err := auth.ParseKeyFiles(cfg.JWTVerifyPublicKeys)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("parse jwt verify public keys: %w", err)
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
		_ = redisClient.Close()
		return nil, fmt.Errorf("init sessions: %w", err)
	}
	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init object store: %w", err)
	}
	broker, err := realtime.NewBroker(redisClient, "ghazal:notifications")
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("init realtime broker: %w", err)
	}
	a, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Sessions:    sessions,
		Objects:     objects,
		Realtime:    broker,
	})
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	return &cli.Runtime{App: a, Close: func() { _ = redisClient.Close() }}, nil
}
