// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package config loads parlor settings from defaults, an optional YAML file
// and command-line flags, in increasing order of precedence.
package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/parlor/parlor/internal/logging"
)

// CodeInvalid marks configuration that failed validation.
const CodeInvalid = "CONFIG_INVALID"

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseURLEnv is consulted when store.database_url is empty.
const DatabaseURLEnv = "DATABASE_URL"

// Config is the complete server configuration.
type Config struct {
	ListenAddr  string        `koanf:"listen_addr" yaml:"listen_addr"`
	WSPath      string        `koanf:"ws_path" yaml:"ws_path"`
	MetricsAddr string        `koanf:"metrics_addr" yaml:"metrics_addr"`
	ControlAddr string        `koanf:"control_addr" yaml:"control_addr"`
	Log         LogConfig     `koanf:"log" yaml:"log"`
	Store       StoreConfig   `koanf:"store" yaml:"store"`
	Auth        AuthConfig    `koanf:"auth" yaml:"auth"`
	Gateway     GatewayConfig `koanf:"gateway" yaml:"gateway"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// StoreConfig configures the account store.
type StoreConfig struct {
	Driver         string        `koanf:"driver" yaml:"driver"`
	DatabaseURL    string        `koanf:"database_url" yaml:"database_url"`
	Timeout        time.Duration `koanf:"timeout" yaml:"timeout"`
	ConnectRetries uint64        `koanf:"connect_retries" yaml:"connect_retries"`
	AutoMigrate    bool          `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// AuthConfig configures password hashing.
type AuthConfig struct {
	Hasher     string `koanf:"hasher" yaml:"hasher"`
	BcryptCost int    `koanf:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// GatewayConfig configures the WebSocket gateway.
type GatewayConfig struct {
	AllowedOrigins  []string      `koanf:"allowed_origins" yaml:"allowed_origins"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	MaxMessageBytes int64         `koanf:"max_message_bytes" yaml:"max_message_bytes"`
}

// defaults holds the value of every key before the file and flags apply.
var defaults = map[string]any{
	"listen_addr":               ":3000",
	"ws_path":                   "/socket",
	"metrics_addr":              "127.0.0.1:9100",
	"control_addr":              "127.0.0.1:9101",
	"log.format":                "json",
	"log.level":                 "info",
	"store.driver":              DriverPostgres,
	"store.database_url":        "",
	"store.timeout":             "5s",
	"store.connect_retries":     5,
	"store.auto_migrate":        true,
	"auth.hasher":               "bcrypt",
	"auth.bcrypt_cost":          10,
	"gateway.allowed_origins":   []string{},
	"gateway.write_timeout":     "10s",
	"gateway.max_message_bytes": 65536,
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"listen-addr":       "listen_addr",
	"ws-path":           "ws_path",
	"metrics-addr":      "metrics_addr",
	"control-addr":      "control_addr",
	"log-format":        "log.format",
	"log-level":         "log.level",
	"store":             "store.driver",
	"database-url":      "store.database_url",
	"store-timeout":     "store.timeout",
	"auto-migrate":      "store.auto_migrate",
	"hasher":            "auth.hasher",
	"bcrypt-cost":       "auth.bcrypt_cost",
	"allowed-origins":   "gateway.allowed_origins",
	"max-message-bytes": "gateway.max_message_bytes",
}

// RegisterFlags adds the flags that override config keys to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("listen-addr", ":3000", "WebSocket listen address")
	fs.String("ws-path", "/socket", "HTTP path of the WebSocket endpoint")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.String("control-addr", "127.0.0.1:9101", "control gRPC address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("store", DriverPostgres, "account store (postgres or memory)")
	fs.String("database-url", "", "PostgreSQL URL (default: $"+DatabaseURLEnv+")")
	fs.Duration("store-timeout", 5*time.Second, "timeout for each account store call")
	fs.Bool("auto-migrate", true, "apply database migrations at startup")
	fs.String("hasher", "bcrypt", "password hashing algorithm (bcrypt or argon2id)")
	fs.Int("bcrypt-cost", 10, "bcrypt work factor")
	fs.StringSlice("allowed-origins", nil, "allowed browser origins (empty = any)")
	fs.Int64("max-message-bytes", 65536, "maximum inbound WebSocket message size")
}

// Load builds a Config. path may be empty; flags may be nil. getenv is
// consulted for DATABASE_URL and may be nil.
func Load(path string, flags *pflag.FlagSet, getenv func(string) string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, oops.With("key", key).Wrapf(err, "set default")
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "load config file")
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decode config")
	}

	if cfg.Store.DatabaseURL == "" && getenv != nil {
		cfg.Store.DatabaseURL = getenv(DatabaseURLEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code(CodeInvalid).With("key", key).Errorf(format, args...)
	}

	if c.ListenAddr == "" {
		return invalid("listen_addr", "listen_addr is required")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return invalid("ws_path", "ws_path must start with '/', got %q", c.WSPath)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return invalid("store.database_url",
				"store.database_url or %s is required for the postgres store", DatabaseURLEnv)
		}
	default:
		return invalid("store.driver", "store.driver must be 'postgres' or 'memory', got %q", c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		return invalid("store.timeout", "store.timeout must be positive")
	}

	if !slices.Contains([]string{"bcrypt", "argon2id"}, c.Auth.Hasher) {
		return invalid("auth.hasher", "auth.hasher must be 'bcrypt' or 'argon2id', got %q", c.Auth.Hasher)
	}
	if c.Auth.Hasher == "bcrypt" && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return invalid("auth.bcrypt_cost", "auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}

	if c.Gateway.WriteTimeout <= 0 {
		return invalid("gateway.write_timeout", "gateway.write_timeout must be positive")
	}
	if c.Gateway.MaxMessageBytes <= 0 {
		return invalid("gateway.max_message_bytes", "gateway.max_message_bytes must be positive")
	}
	return nil
}

// YAML renders the configuration with any database password redacted.
func (c *Config) YAML() ([]byte, error) {
	redacted := *c
	redacted.Store.DatabaseURL = redactURL(c.Store.DatabaseURL)
	out, err := yamlv3.Marshal(&redacted)
	if err != nil {
		return nil, oops.Wrapf(err, "marshal config")
	}
	return out, nil
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}
