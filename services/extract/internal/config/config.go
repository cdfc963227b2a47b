package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ghazal/internal/envconfig"
)

// ConfigPath is the default config file, overridable with GHAZAL_EXTRACT_CONFIG_PATH.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// JWKSURL enables user-token checks on /extract when set.
	JWKSURL     string        `yaml:"jwksURL"`
	JWTIssuer   string        `yaml:"jwtIssuer"`
	JWTAudience string        `yaml:"jwtAudience"`
	JWTLeeway   time.Duration `yaml:"jwtLeeway"`

	MaxUploadBytes     int64    `yaml:"maxUploadBytes"`
	MaxCharacters      int      `yaml:"maxCharacters"`
	PdftotextPath      string   `yaml:"pdftotextPath"`
	TempDir            string   `yaml:"tempDir"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
}

// Path returns the config file location for this service.
func Path() string {
	return envconfig.Path("GHAZAL_EXTRACT_CONFIG_PATH", ConfigPath)
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
	envconfig.String(&cfg.JWKSURL, "GHAZAL_JWKS_URL")
	envconfig.String(&cfg.PdftotextPath, "GHAZAL_PDFTOTEXT_PATH")
	envconfig.Strings(&cfg.CORSAllowedOrigins, "GHAZAL_CORS_ALLOWED_ORIGINS")
	if err := envconfig.First(
		envconfig.Int64(&cfg.MaxUploadBytes, "GHAZAL_MAX_UPLOAD_BYTES"),
		envconfig.Int(&cfg.MaxCharacters, "GHAZAL_MAX_CHARACTERS"),
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
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	if cfg.MaxCharacters == 0 {
		cfg.MaxCharacters = 200000
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be positive")
	}
	if cfg.MaxCharacters < 0 {
		return errors.New("config: maxCharacters must be positive")
	}
	return nil
}
