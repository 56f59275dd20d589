// Package config loads server settings from defaults, an optional config
// file and PAGEHALL_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pagehall.org/internal/auth"
)

const envPrefix = "PAGEHALL"

// Config is the resolved server configuration.
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	PGDSN         string
	MigrationsDir string

	AuthSecret         string
	AuthIssuer         string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	RefreshReusePolicy auth.ReusePolicy

	LogLevel     string
	MaxBodyBytes int64
	CORSOrigins  []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("auth_secret", "")
	v.SetDefault("auth_issuer", "pagehall")
	v.SetDefault("access_ttl", "15m")
	v.SetDefault("refresh_ttl", "336h")
	v.SetDefault("refresh_reuse_policy", "revoke_all")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("cors_origins", "")
}

// Load resolves and validates the configuration. An empty path skips the
// config file; PAGEHALL_CONFIG names one when path is empty.
func Load(path string) (Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate, for tools such as the migrator
// that need only part of the configuration.
func LoadUnvalidated(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	policy, err := auth.ParseReusePolicy(v.GetString("refresh_reuse_policy"))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPAddr:           v.GetString("http_addr"),
		GRPCAddr:           v.GetString("grpc_addr"),
		PGDSN:              v.GetString("pg_dsn"),
		MigrationsDir:      v.GetString("migrations_dir"),
		AuthSecret:         v.GetString("auth_secret"),
		AuthIssuer:         v.GetString("auth_issuer"),
		AccessTTL:          v.GetDuration("access_ttl"),
		RefreshTTL:         v.GetDuration("refresh_ttl"),
		RefreshReusePolicy: policy,
		LogLevel:           v.GetString("log_level"),
		MaxBodyBytes:       v.GetInt64("max_body_bytes"),
		CORSOrigins:        splitList(v.GetString("cors_origins")),
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AuthSecret) == "" {
		errs = append(errs, errors.New("auth_secret is required"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("access_ttl must be positive"))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("refresh_ttl must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
