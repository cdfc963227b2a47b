package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ghazal/internal/envconfig"
)

// ConfigPath is the default config file, overridable with GHAZAL_AUDIOBOOK_CONFIG_PATH.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"logLevel"`
	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	JWKSURL     string        `yaml:"jwksURL"`
	JWTIssuer   string        `yaml:"jwtIssuer"`
	JWTAudience string        `yaml:"jwtAudience"`
	JWTLeeway   time.Duration `yaml:"jwtLeeway"`

	TTSBaseURL    string        `yaml:"ttsBaseURL"`
	TTSAPIKey     string        `yaml:"ttsAPIKey"`
	TTSModel      string        `yaml:"ttsModel"`
	TTSTimeout    time.Duration `yaml:"ttsTimeout"`
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`

	QueueStream       string        `yaml:"queueStream"`
	QueueGroup        string        `yaml:"queueGroup"`
	QueueMaxRetries   int           `yaml:"queueMaxRetries"`
	QueueClaimIdle    time.Duration `yaml:"queueClaimIdle"`
	WorkerConcurrency int           `yaml:"workerConcurrency"`
	// SegmentConcurrency bounds parallel speech calls within one audiobook.
	SegmentConcurrency int           `yaml:"segmentConcurrency"`
	AudioURLTTL        time.Duration `yaml:"audioURLTTL"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
}

// Path returns the config file location for this service.
func Path() string {
	return envconfig.Path("GHAZAL_AUDIOBOOK_CONFIG_PATH", ConfigPath)
}

// Load reads config from path (defaults to Path()), then applies .env and
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = Path()
	}
	if err := envconfig.LoadDotEnv(); err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	envconfig.String(&cfg.Port, "PORT")
	envconfig.String(&cfg.LogLevel, "LOG_LEVEL")
	envconfig.String(&cfg.DatabaseURL, "DATABASE_URL")
	envconfig.String(&cfg.RedisAddr, "REDIS_ADDR")
	envconfig.String(&cfg.RedisPassword, "REDIS_PASSWORD")
	envconfig.String(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	envconfig.String(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	envconfig.String(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	envconfig.String(&cfg.MinioBucket, "MINIO_BUCKET")
	envconfig.String(&cfg.JWKSURL, "GHAZAL_JWKS_URL")
	envconfig.String(&cfg.TTSBaseURL, "TTS_BASE_URL")
	envconfig.String(&cfg.TTSAPIKey, "TTS_API_KEY")
	envconfig.String(&cfg.TTSModel, "TTS_MODEL")
	envconfig.Strings(&cfg.CORSAllowedOrigins, "GHAZAL_CORS_ALLOWED_ORIGINS")
	if err := envconfig.First(
		envconfig.Int(&cfg.RedisDB, "REDIS_DB"),
		envconfig.Bool(&cfg.MinioUseSSL, "MINIO_USE_SSL"),
		envconfig.Int(&cfg.WorkerConcurrency, "GHAZAL_WORKER_CONCURRENCY"),
		envconfig.Int(&cfg.SegmentConcurrency, "GHAZAL_SEGMENT_CONCURRENCY"),
		envconfig.Int(&cfg.QueueMaxRetries, "GHAZAL_QUEUE_MAX_RETRIES"),
		envconfig.Duration(&cfg.AudioURLTTL, "GHAZAL_AUDIO_URL_TTL"),
	); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.TTSModel == "" {
		cfg.TTSModel = "tts-1"
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = 2 * time.Minute
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 32 << 20
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "ghazal:audiobooks"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "audiobook"
	}
	if cfg.QueueMaxRetries <= 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.QueueClaimIdle <= 0 {
		cfg.QueueClaimIdle = 10 * time.Minute
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.SegmentConcurrency <= 0 {
		cfg.SegmentConcurrency = 4
	}
	if cfg.AudioURLTTL <= 0 {
		cfg.AudioURLTTL = time.Hour
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minioAccessKey and minioSecretKey are required")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or GHAZAL_JWKS_URL)")
	}
	if cfg.TTSBaseURL == "" {
		return errors.New("config: ttsBaseURL is required (set in config.yaml or TTS_BASE_URL)")
	}
	return nil
}
