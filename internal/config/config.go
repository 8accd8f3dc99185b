package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"supportchat/pkg/types"
)

// Config is the complete client configuration
// ARCHITECTURAL DISCOVERY: One typed struct per concern; components receive
// their own section and never read viper directly
type Config struct {
	Channel   ChannelConfig   `mapstructure:"channel"`
	API       APIConfig       `mapstructure:"api"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Typing    TypingConfig    `mapstructure:"typing"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ChannelConfig tunes the real-time transport.
type ChannelConfig struct {
	URL                  string        `mapstructure:"url"`
	Role                 string        `mapstructure:"role"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	ReconnectInitial     time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMaxInterval time.Duration `mapstructure:"reconnect_max_interval"`
	// ReconnectMaxElapsed of zero retries until the client disconnects
	ReconnectMaxElapsed time.Duration `mapstructure:"reconnect_max_elapsed"`
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	InvokeTimeout       time.Duration `mapstructure:"invoke_timeout"`
	BufferSize          int           `mapstructure:"buffer_size"`
	EventBuffer         int           `mapstructure:"event_buffer"`
}

// APIConfig locates the REST backend.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DirectoryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type TypingConfig struct {
	Debounce   time.Duration `mapstructure:"debounce"`
	Visibility time.Duration `mapstructure:"visibility"`
}

// LimitsConfig caps outbound traffic; zero disables the limiter.
type LimitsConfig struct {
	MessagesPerMinute int `mapstructure:"messages_per_minute"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	config, err := Decode(v)
	if err != nil {
		// Defaults are static; failing to decode them is a programming error
		panic(err)
	}
	return config
}

// Validate rejects configurations the client cannot run with.
func (c *Config) Validate() error {
	endpoint, err := url.Parse(c.Channel.URL)
	if err != nil || (endpoint.Scheme != "ws" && endpoint.Scheme != "wss") || endpoint.Host == "" {
		return fmt.Errorf("channel url must be an absolute ws:// or wss:// URL, got %q", c.Channel.URL)
	}
	if !types.IsValidRole(types.Role(c.Channel.Role)) {
		return fmt.Errorf("channel role must be %q or %q, got %q", types.RoleCustomer, types.RoleAdmin, c.Channel.Role)
	}

	positive := map[string]time.Duration{
		"channel.handshake_timeout":      c.Channel.HandshakeTimeout,
		"channel.reconnect_initial":      c.Channel.ReconnectInitial,
		"channel.reconnect_max_interval": c.Channel.ReconnectMaxInterval,
		"channel.ping_interval":          c.Channel.PingInterval,
		"channel.read_timeout":           c.Channel.ReadTimeout,
		"channel.write_timeout":          c.Channel.WriteTimeout,
		"channel.invoke_timeout":         c.Channel.InvokeTimeout,
		"api.timeout":                    c.API.Timeout,
		"directory.poll_interval":        c.Directory.PollInterval,
		"typing.debounce":                c.Typing.Debounce,
		"typing.visibility":              c.Typing.Visibility,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Channel.ReconnectMaxElapsed < 0 {
		return errors.New("channel.reconnect_max_elapsed cannot be negative")
	}
	if c.Channel.ReconnectInitial > c.Channel.ReconnectMaxInterval {
		return errors.New("channel.reconnect_initial must not exceed channel.reconnect_max_interval")
	}
	if c.Channel.PingInterval >= c.Channel.ReadTimeout {
		return errors.New("channel.ping_interval should be less than channel.read_timeout")
	}
	if c.Channel.BufferSize <= 0 || c.Channel.EventBuffer <= 0 {
		return errors.New("channel buffer sizes must be positive")
	}

	base, err := url.Parse(c.API.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return fmt.Errorf("api base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}

	if c.Limits.MessagesPerMinute < 0 {
		return errors.New("limits.messages_per_minute cannot be negative")
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return errors.New("archive.path is required when the archive is enabled")
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return errors.New("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.New("metrics.path must start with /")
		}
	}
	return nil
}

// IsAdmin reports whether the configured role is the agent side.
func (c *Config) IsAdmin() bool {
	return types.Role(c.Channel.Role) == types.RoleAdmin
}

// NewViper returns a viper instance layered defaults < file < environment.
// FUNCTIONAL DISCOVERY: A missing file is not an error; defaults and the
// environment still apply, matching container deployments with no file
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		return v, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("Config file %s not found, using defaults and environment", path)
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config file error: %w", err)
	}
	return v, nil
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	config.Channel.Role = strings.ToLower(strings.TrimSpace(config.Channel.Role))
	return &config, nil
}

// LoadFromFile reads a YAML or JSON file over the defaults. The environment is
// not consulted, so the file can be checked on its own.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Override applies a layer above the environment, such as bound command-line flags.
type Override func(v *viper.Viper) error

// LoadConfigWithPrecedence resolves overrides > environment > file > defaults.
func LoadConfigWithPrecedence(path string, overrides ...Override) (*Config, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	for _, apply := range overrides {
		if err := apply(v); err != nil {
			return nil, err
		}
	}

	config, err := Decode(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}
