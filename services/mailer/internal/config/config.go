package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ghazal/internal/envconfig"
)

// ConfigPath is the default config file, overridable with GHAZAL_MAILER_CONFIG_PATH.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	ResendAPIKey  string        `yaml:"resendAPIKey"`
	ResendFrom    string        `yaml:"resendFrom"`
	ResendBaseURL string        `yaml:"resendBaseURL"`
	ResendTimeout time.Duration `yaml:"resendTimeout"`

	// AMQPURL enables the queue consumer; empty serves HTTP only.
	AMQPURL       string `yaml:"amqpURL"`
	EmailQueue    string `yaml:"emailQueue"`
	QueuePrefetch int    `yaml:"queuePrefetch"`

	InternalJWTPublicKeyPath  string        `yaml:"internalJwtPublicKeyPath"`
	InternalJWTKeyID          string        `yaml:"internalJwtKeyId"`
	InternalJWTVerifyKeys     string        `yaml:"internalJwtVerifyPublicKeys"`
	InternalJWTAllowedIssuers []string      `yaml:"internalJwtAllowedIssuers"`
	InternalJWTLeeway         time.Duration `yaml:"internalJwtLeeway"`
}

// Path returns the config file location for this service.
func Path() string {
	return envconfig.Path("GHAZAL_MAILER_CONFIG_PATH", ConfigPath)
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
	envconfig.String(&cfg.ResendAPIKey, "RESEND_API_KEY")
	envconfig.String(&cfg.ResendFrom, "RESEND_FROM")
	envconfig.String(&cfg.ResendBaseURL, "RESEND_BASE_URL")
	envconfig.String(&cfg.AMQPURL, "AMQP_URL")
	envconfig.String(&cfg.EmailQueue, "GHAZAL_EMAIL_QUEUE")
	envconfig.String(&cfg.InternalJWTPublicKeyPath, "GHAZAL_INTERNAL_JWT_PUBLIC_KEY_PATH")
	envconfig.String(&cfg.InternalJWTKeyID, "GHAZAL_INTERNAL_JWT_KID")
	envconfig.String(&cfg.InternalJWTVerifyKeys, "GHAZAL_INTERNAL_JWT_VERIFY_PUBLIC_KEYS")
	envconfig.Strings(&cfg.InternalJWTAllowedIssuers, "GHAZAL_INTERNAL_JWT_ALLOWED_ISSUERS")
	if err := envconfig.First(
		envconfig.Int(&cfg.QueuePrefetch, "GHAZAL_QUEUE_PREFETCH"),
		envconfig.Duration(&cfg.ResendTimeout, "RESEND_TIMEOUT"),
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
	if cfg.EmailQueue == "" {
		cfg.EmailQueue = "ghazal.emails"
	}
	if cfg.QueuePrefetch <= 0 {
		cfg.QueuePrefetch = 8
	}
	if cfg.ResendTimeout <= 0 {
		cfg.ResendTimeout = 10 * time.Second
	}
	if len(cfg.InternalJWTAllowedIssuers) == 0 {
		cfg.InternalJWTAllowedIssuers = []string{"api"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.ResendAPIKey == "" {
		return errors.New("config: resendAPIKey is required (set in config.yaml or RESEND_API_KEY)")
	}
	if cfg.ResendFrom == "" {
		return errors.New("config: resendFrom is required (set in config.yaml or RESEND_FROM)")
	}
	if cfg.InternalJWTPublicKeyPath == "" && cfg.InternalJWTVerifyKeys == "" {
		return errors.New("config: internalJwtPublicKeyPath is required (set in config.yaml or GHAZAL_INTERNAL_JWT_PUBLIC_KEY_PATH)")
	}
	return nil
}
