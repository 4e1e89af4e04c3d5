package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dossier/internal/linker"
	"github.com/starford/dossier/internal/ratelimit"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Remote drivers.
const (
	RemoteDriverDiscord = "discord"
	RemoteDriverMemory  = "memory"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Webhook   WebhookConfig     `yaml:"webhook"`
	Remote    RemoteConfig      `yaml:"remote"`
	Guilds    GuildsConfig      `yaml:"guilds"`
	RateLimit RateLimitConfig   `yaml:"ratelimit"`
	Linker    LinkerConfig      `yaml:"linker"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if err := c.Linker.Validate(); err != nil {
		return fmt.Errorf("linker: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the REST API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
//
// The webhook is authenticated by its shared secret instead.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WebhookConfig holds the shared secret for inbound updates. It is the only
// setting picked up by a config reload.
type WebhookConfig struct {
	Secret string `yaml:"secret"`
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Secret, validation.Required),
	)
}

// RemoteConfig selects the thread platform.
type RemoteConfig struct {
	Driver   string `yaml:"driver"`
	Token    string `yaml:"token"`
	LinkBase string `yaml:"link_base"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(RemoteDriverDiscord, RemoteDriverMemory)),
		validation.Field(&c.Token, validation.When(c.Driver == RemoteDriverDiscord, validation.Required)),
		validation.Field(&c.LinkBase, validation.Required),
	)
}

// GuildsConfig restricts which guilds are served. Empty allows all.
type GuildsConfig struct {
	Allowlist []string `yaml:"allowlist"`
}

// RateLimitConfig holds the lookup cooldown.
type RateLimitConfig struct {
	Window time.Duration `yaml:"window"`
}

// Validate validates the rate limit configuration.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Window, validation.Required, validation.Min(time.Millisecond)),
	)
}

// LinkerConfig tunes mention linking.
type LinkerConfig struct {
	MaxLinks int `yaml:"max_links"`
	// LiveTTL caches thread liveness while building mention indexes. Zero
	// disables the cache.
	LiveTTL time.Duration `yaml:"live_ttl"`
}

// Validate validates the linker configuration.
func (c *LinkerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxLinks, validation.Required, validation.Min(1)),
		validation.Field(&c.LiveTTL, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./dossier.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Remote: RemoteConfig{
			Driver:   RemoteDriverDiscord,
			LinkBase: linker.DefaultLinkBase,
		},
		RateLimit: RateLimitConfig{
			Window: ratelimit.DefaultWindow,
		},
		Linker: LinkerConfig{
			MaxLinks: linker.DefaultMaxLinks,
			LiveTTL:  30 * time.Second,
		},
	}
}
