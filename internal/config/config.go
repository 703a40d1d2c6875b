// ABOUTME: Configuration loading and parsing for coven-otr
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-otr/internal/engine"
)

const (
	DefaultMode            = "auto"
	DefaultWriteQueueSize  = 256
	DefaultWriteTimeout    = 5 * time.Second
	DefaultFallbackMessage = "This message is encrypted, but your client does not support encrypted messaging."
	DefaultUnreadableReply = "Your message could not be decrypted. The encrypted session may have ended; please send it again."
)

// Config represents the complete coven-otr configuration
type Config struct {
	Security SecurityConfig `yaml:"security" toml:"security"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Keys     KeysConfig     `yaml:"keys" toml:"keys"`
	Trust    TrustConfig    `yaml:"trust" toml:"trust"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// SecurityConfig holds the encryption policy and the texts shown to peers
type SecurityConfig struct {
	Mode            string `yaml:"mode" toml:"mode"`
	FallbackMessage string `yaml:"fallback_message" toml:"fallback_message"`
	UnreadableReply string `yaml:"unreadable_reply" toml:"unreadable_reply"`

	// Policy is parsed from Mode
	Policy engine.Policy `yaml:"-" toml:"-"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// KeysConfig holds identity storage configuration
type KeysConfig struct {
	// Passphrase seals identities at rest. Usually ${COVEN_OTR_PASSPHRASE}.
	Passphrase string `yaml:"passphrase" toml:"passphrase"`
}

// TrustConfig holds write-behind settings of the trust store
type TrustConfig struct {
	WriteQueueSize int           `yaml:"write_queue_size" toml:"write_queue_size"`
	WriteTimeout   time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes configuration content as Load does. The path only selects
// the format by its extension.
func Parse(data []byte, path string) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Security.Mode == "" {
		cfg.Security.Mode = DefaultMode
	}
	if cfg.Security.FallbackMessage == "" {
		cfg.Security.FallbackMessage = DefaultFallbackMessage
	}
	if cfg.Security.UnreadableReply == "" {
		cfg.Security.UnreadableReply = DefaultUnreadableReply
	}
	if cfg.Trust.WriteQueueSize == 0 {
		cfg.Trust.WriteQueueSize = DefaultWriteQueueSize
	}
	if cfg.Trust.WriteTimeoutRaw == "" {
		cfg.Trust.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	cfg.Database.Path = expandHome(cfg.Database.Path)
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// The parsed security policy is stored in Security.Policy.
func (c *Config) Validate() error {
	policy, err := engine.ParsePolicy(c.Security.Mode)
	if err != nil {
		return fmt.Errorf("security.mode: %w", err)
	}
	c.Security.Policy = policy

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Trust.WriteQueueSize < 0 {
		return fmt.Errorf("trust.write_queue_size must not be negative")
	}
	if c.Trust.WriteTimeout < 0 {
		return fmt.Errorf("trust.write_timeout must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is invalid (want debug, info, warn or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is invalid (want text or json)", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Trust.WriteTimeoutRaw != "" {
		cfg.Trust.WriteTimeout, err = time.ParseDuration(cfg.Trust.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Trust.WriteTimeoutRaw, err)
		}
	}

	return nil
}
