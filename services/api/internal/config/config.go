package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ghazal/internal/envconfig"
)

// ConfigPath is the default config file, overridable with GHAZAL_API_CONFIG_PATH.
const ConfigPath = "config.yaml"

const (
	MailerAMQP = "amqp"
	MailerHTTP = "http"
	MailerNone = "none"
)

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

	SessionTTL          time.Duration `yaml:"sessionTTL"`
	JWTPrivateKeyPath   string        `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string        `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string        `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys string        `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string        `yaml:"jwtIssuer"`
	JWTAudience         string        `yaml:"jwtAudience"`
	JWTLeeway           time.Duration `yaml:"jwtLeeway"`

	CORSAllowedOrigins []string      `yaml:"corsAllowedOrigins"`
	TrustedProxies     []string      `yaml:"trustedProxies"`
	LoginRateLimit     int           `yaml:"loginRateLimit"`
	LoginRateWindow    time.Duration `yaml:"loginRateWindow"`
	MaxUploadBytes     int64         `yaml:"maxUploadBytes"`

	// MailerTransport is amqp (queue to the mailer consumer), http (direct
	// calls with an internal service token) or none.
	MailerTransport           string        `yaml:"mailerTransport"`
	AMQPURL                   string        `yaml:"amqpURL"`
	EmailQueue                string        `yaml:"emailQueue"`
	MailerURL                 string        `yaml:"mailerURL"`
	InternalJWTPrivateKeyPath string        `yaml:"internalJwtPrivateKeyPath"`
	InternalJWTKeyID          string        `yaml:"internalJwtKeyId"`
	InternalJWTTTL            time.Duration `yaml:"internalJwtTTL"`

	OverdueSweepInterval time.Duration `yaml:"overdueSweepInterval"`
	DownloadURLTTL       time.Duration `yaml:"downloadURLTTL"`
}

// Path returns the config file location for this service.
func Path() string {
	return envconfig.Path("GHAZAL_API_CONFIG_PATH", ConfigPath)
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
	envconfig.String(&cfg.JWTPrivateKeyPath, "GHAZAL_JWT_PRIVATE_KEY_PATH")
	envconfig.String(&cfg.JWTPublicKeyPath, "GHAZAL_JWT_PUBLIC_KEY_PATH")
	envconfig.String(&cfg.JWTVerifyPublicKeys, "GHAZAL_JWT_VERIFY_PUBLIC_KEYS")
	envconfig.Strings(&cfg.CORSAllowedOrigins, "GHAZAL_CORS_ALLOWED_ORIGINS")
	envconfig.Strings(&cfg.TrustedProxies, "GHAZAL_TRUSTED_PROXIES")
	envconfig.String(&cfg.MailerTransport, "GHAZAL_MAILER_TRANSPORT")
	envconfig.String(&cfg.AMQPURL, "AMQP_URL")
	envconfig.String(&cfg.MailerURL, "GHAZAL_MAILER_URL")
	envconfig.String(&cfg.InternalJWTPrivateKeyPath, "GHAZAL_INTERNAL_JWT_PRIVATE_KEY_PATH")
	if err := envconfig.First(
		envconfig.Int(&cfg.RedisDB, "REDIS_DB"),
		envconfig.Bool(&cfg.MinioUseSSL, "MINIO_USE_SSL"),
		envconfig.Int(&cfg.LoginRateLimit, "GHAZAL_LOGIN_RATE_LIMIT"),
		envconfig.Duration(&cfg.LoginRateWindow, "GHAZAL_LOGIN_RATE_WINDOW"),
		envconfig.Int64(&cfg.MaxUploadBytes, "GHAZAL_MAX_UPLOAD_BYTES"),
		envconfig.Duration(&cfg.OverdueSweepInterval, "GHAZAL_OVERDUE_SWEEP_INTERVAL"),
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
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.LoginRateLimit == 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.LoginRateWindow <= 0 {
		cfg.LoginRateWindow = time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	cfg.MailerTransport = strings.ToLower(strings.TrimSpace(cfg.MailerTransport))
	if cfg.MailerTransport == "" {
		cfg.MailerTransport = MailerAMQP
	}
	if cfg.EmailQueue == "" {
		cfg.EmailQueue = "ghazal.emails"
	}
	if cfg.OverdueSweepInterval == 0 {
		cfg.OverdueSweepInterval = time.Hour
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
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
		return errors.New("config: minioAccessKey and minioSecretKey are required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.JWTPrivateKeyPath == "" {
		return errors.New("config: jwtPrivateKeyPath is required (run ghazalctl keygen)")
	}
	if cfg.LoginRateLimit < 0 {
		return errors.New("config: loginRateLimit must not be negative")
	}
	switch cfg.MailerTransport {
	case MailerAMQP:
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required when mailerTransport is amqp")
		}
	case MailerHTTP:
		if cfg.MailerURL == "" {
			return errors.New("config: mailerURL is required when mailerTransport is http")
		}
		if cfg.InternalJWTPrivateKeyPath == "" {
			return errors.New("config: internalJwtPrivateKeyPath is required when mailerTransport is http")
		}
	case MailerNone:
	default:
		return fmt.Errorf("config: mailerTransport must be amqp, http or none, got %q", cfg.MailerTransport)
	}
	return nil
}
