// Package config loads configuration from environment variables and an
// optional config file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	// Media
	MediaRoot string `mapstructure:"media_root" validate:"required"`

	// Server
	ListenAddr      string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// Logging
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// Workers
	ListWorkers     int `mapstructure:"list_workers" validate:"gte=1"`
	StreamWorkers   int `mapstructure:"stream_workers" validate:"gte=1"`
	WorkerQueue     int `mapstructure:"worker_queue" validate:"gte=0"`
	StreamChunkSize int `mapstructure:"stream_chunk_size" validate:"gte=4096"`
	ListBatchSize   int `mapstructure:"list_batch_size" validate:"gte=1"`

	// CORS origins allowed to open the socket transport; "*" allows any.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Auth (empty password disables authentication)
	AuthUsername string        `mapstructure:"auth_username" validate:"required_with=AuthPassword"`
	AuthPassword string        `mapstructure:"auth_password"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" validate:"gt=0"`

	// TLS (optional, both must be set)
	TLSCertFile string `mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// AuthEnabled reports whether a shared password is configured.
func (c *Config) AuthEnabled() bool {
	return c.AuthPassword != ""
}

var validate = validator.New()

// Load reads configuration. configPath names an optional YAML/TOML/JSON
// file; when empty, CONFIG_FILE is consulted. Environment variables
// override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper skips empty variables; an explicitly empty METRICS_ADDR
	// disables the metrics listener.
	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok && addr == "" {
		cfg.MetricsAddr = ""
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.ListenAddr = ":" + port
	}
	if cfg.MediaRoot == "" || cfg.MediaRoot == "~" || strings.HasPrefix(cfg.MediaRoot, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.MediaRoot = filepath.Join(home, strings.TrimPrefix(cfg.MediaRoot, "~"))
	}
	cfg.CORSAllowedOrigins = splitOrigins(cfg.CORSAllowedOrigins)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("media_root", "")
	v.SetDefault("listen_addr", ":8888")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("list_workers", 4)
	v.SetDefault("stream_workers", 16)
	v.SetDefault("worker_queue", 64)
	v.SetDefault("stream_chunk_size", 1<<20)
	v.SetDefault("list_batch_size", 200)
	v.SetDefault("cors_allowed_origins", []string{"*"})
	v.SetDefault("auth_username", "bitflow")
	v.SetDefault("auth_password", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
}

// splitOrigins accepts both a list and a single comma-separated value as
// set from the environment.
func splitOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		for _, o := range strings.Split(item, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs checks that struct tags cannot express.
func validateCustomRules(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr: %w", err)
	}
	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		if cfg.MetricsAddr == cfg.ListenAddr {
			return fmt.Errorf("metrics_addr: must differ from listen_addr")
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
