package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ghazal/internal/envconfig"
)

// ConfigPath is the default config file, overridable with GHAZAL_ASSISTANT_CONFIG_PATH.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	JWKSURL     string        `yaml:"jwksURL"`
	JWTIssuer   string        `yaml:"jwtIssuer"`
	JWTAudience string        `yaml:"jwtAudience"`
	JWTLeeway   time.Duration `yaml:"jwtLeeway"`

	LLMBaseURL     string        `yaml:"llmBaseURL"`
	LLMAPIKey      string        `yaml:"llmAPIKey"`
	LLMModel       string        `yaml:"llmModel"`
	LLMTemperature float64       `yaml:"llmTemperature"`
	LLMMaxTokens   int           `yaml:"llmMaxTokens"`
	LLMTimeout     time.Duration `yaml:"llmTimeout"`

	CatalogURL      string        `yaml:"catalogURL"`
	CatalogCacheTTL time.Duration `yaml:"catalogCacheTTL"`

	ChatRateLimit      int           `yaml:"chatRateLimit"`
	ChatRateWindow     time.Duration `yaml:"chatRateWindow"`
	CORSAllowedOrigins []string      `yaml:"corsAllowedOrigins"`
}

// Path returns the config file location for this service.
func Path() string {
	return envconfig.Path("GHAZAL_ASSISTANT_CONFIG_PATH", ConfigPath)
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
	envconfig.String(&cfg.RedisAddr, "REDIS_ADDR")
	envconfig.String(&cfg.RedisPassword, "REDIS_PASSWORD")
	envconfig.String(&cfg.JWKSURL, "GHAZAL_JWKS_URL")
	envconfig.String(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envconfig.String(&cfg.LLMAPIKey, "LLM_API_KEY")
	envconfig.String(&cfg.LLMModel, "LLM_MODEL")
	envconfig.String(&cfg.CatalogURL, "GHAZAL_CATALOG_URL")
	envconfig.Strings(&cfg.CORSAllowedOrigins, "GHAZAL_CORS_ALLOWED_ORIGINS")
	if err := envconfig.First(
		envconfig.Int(&cfg.RedisDB, "REDIS_DB"),
		envconfig.Int(&cfg.ChatRateLimit, "GHAZAL_CHAT_RATE_LIMIT"),
		envconfig.Duration(&cfg.ChatRateWindow, "GHAZAL_CHAT_RATE_WINDOW"),
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
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	if cfg.CatalogCacheTTL <= 0 {
		cfg.CatalogCacheTTL = 5 * time.Minute
	}
	if cfg.ChatRateLimit == 0 {
		cfg.ChatRateLimit = 20
	}
	if cfg.ChatRateWindow <= 0 {
		cfg.ChatRateWindow = time.Minute
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or GHAZAL_JWKS_URL)")
	}
	if cfg.LLMBaseURL == "" {
		return errors.New("config: llmBaseURL is required (set in config.yaml or LLM_BASE_URL)")
	}
	if cfg.LLMModel == "" {
		return errors.New("config: llmModel is required (set in config.yaml or LLM_MODEL)")
	}
	if cfg.ChatRateLimit < 0 {
		return errors.New("config: chatRateLimit must not be negative")
	}
	return nil
}
