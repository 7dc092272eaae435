// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.datachat/config.yaml or ./config.yaml)
//  3. Default values
//
// Security: sensitive fields (API key, database password) are masked in
// MarshalJSON. When adding new sensitive fields, update MarshalJSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation, checked with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the Gemini API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidToolRounds indicates the tool round limit is out of range.
	ErrInvalidToolRounds = errors.New("invalid tool rounds")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

const (
	// DefaultModelName is the Gemini model used for chat turns.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultMaxToolRounds bounds the tool-calling loop per turn.
	DefaultMaxToolRounds = 5

	// MaxAllowedToolRounds is the hard ceiling for the loop bound.
	MaxAllowedToolRounds = 10

	// DefaultMaxHistoryMessages is the default number of prior messages
	// replayed to the model per turn.
	DefaultMaxHistoryMessages int32 = 100
)

// Config stores application configuration.
type Config struct {
	// Model configuration
	GeminiAPIKey string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName    string `mapstructure:"model_name" json:"model_name"`

	// Conversation configuration
	MaxHistoryMessages int32 `mapstructure:"max_history_messages" json:"max_history_messages"`
	MaxToolRounds      int   `mapstructure:"max_tool_rounds" json:"max_tool_rounds"`

	// External collaborators
	SystemPromptURL string `mapstructure:"system_prompt_url" json:"system_prompt_url"` // empty = no system instruction
	ImageGenURL     string `mapstructure:"image_gen_url" json:"image_gen_url"`         // empty = image generation disabled

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".datachat")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for all configuration keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("model_name", DefaultModelName)
	v.SetDefault("max_history_messages", DefaultMaxHistoryMessages)
	v.SetDefault("max_tool_rounds", DefaultMaxToolRounds)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "datachat")
	v.SetDefault("postgres_db_name", "datachat")
	v.SetDefault("postgres_ssl_mode", "prefer")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("rate_burst", 60)
}

// bindEnvVariables maps environment variables onto configuration keys.
// GEMINI_API_KEY is also honored without the DATACHAT_ prefix because that
// is the conventional variable name for the Gemini SDK.
func bindEnvVariables(v *viper.Viper) {
	v.SetEnvPrefix("DATACHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Errors from BindEnv only occur with zero arguments; safe to ignore.
	_ = v.BindEnv("gemini_api_key", "DATACHAT_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("postgres_password", "DATACHAT_POSTGRES_PASSWORD", "PGPASSWORD")
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("%w: set DATACHAT_GEMINI_API_KEY or GEMINI_API_KEY", ErrMissingAPIKey)
	}
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if c.MaxToolRounds < 1 || c.MaxToolRounds > MaxAllowedToolRounds {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidToolRounds, c.MaxToolRounds, MaxAllowedToolRounds)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidListenAddr)
	}
	return nil
}

// DatabaseURL builds a PostgreSQL connection string from the storage fields.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPassword,
		c.PostgresHost, c.PostgresPort,
		c.PostgresDBName, c.PostgresSSLMode)
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config // prevent recursion
	masked := alias(c)
	if masked.GeminiAPIKey != "" {
		masked.GeminiAPIKey = "***"
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	return json.Marshal(masked)
}
