package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// MinEncryptionKeyLength is the shortest accepted credential encryption secret.
const MinEncryptionKeyLength = 32

// Config represents the application configuration loaded from a TOML file
// and overridden by environment variables.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Security    SecurityConfig    `toml:"security"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Provider    ProviderConfig    `toml:"provider"`
	Sync        SyncConfig        `toml:"sync"`
	State       StateConfig       `toml:"state"`
	Auth        AuthConfig        `toml:"auth"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify OAuth client settings.
//
// AuthURL, TokenURL and APIURL default to the public Spotify endpoints and
// only need to be set when pointing at a stub or proxy.
type SpotifyConfig struct {
	ClientID     string   `toml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string   `toml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string   `toml:"redirect_uri" env:"SPOTIFY_REDIRECT_URI"`
	Scopes       []string `toml:"scopes" env:"SPOTIFY_SCOPES" envSeparator:","`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	APIURL       string   `toml:"api_url"`
}

// SecurityConfig holds the secret used to encrypt provider credentials at rest.
type SecurityConfig struct {
	EncryptionKey string `toml:"encryption_key" env:"PLAYSYNC_ENCRYPTION_KEY"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"PLAYSYNC_DB_PATH"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host" env:"PLAYSYNC_HOST"`
	Port         int    `toml:"port" env:"PLAYSYNC_PORT"`
	FrontendURL  string `toml:"frontend_url" env:"PLAYSYNC_FRONTEND_URL"`
	ReadTimeout  int    `toml:"read_timeout_seconds"`
	WriteTimeout int    `toml:"write_timeout_seconds"`
}

// Addr returns the host:port pair the HTTP server listens on.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ProviderConfig bounds outbound calls to the streaming provider.
type ProviderConfig struct {
	Name              string  `toml:"name"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	MaxRetries        int     `toml:"max_retries"`
	MaxWaitSeconds    int     `toml:"max_wait_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Timeout is the per-request deadline applied to provider calls.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// MaxWait caps the total retry wait for one provider request. Zero disables the cap.
func (p ProviderConfig) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitSeconds) * time.Second
}

// SyncConfig controls history fetches.
type SyncConfig struct {
	PageSize       int `toml:"page_size"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout bounds one sync pass, including provider retries.
func (s SyncConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// StateConfig selects the authorization state backend. An empty RedisURL
// keeps handshakes in process memory.
type StateConfig struct {
	RedisURL   string `toml:"redis_url" env:"PLAYSYNC_REDIS_URL"`
	TTLMinutes int    `toml:"ttl_minutes"`
}

// TTL is the lifetime of a pending authorization handshake.
func (s StateConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// AuthConfig maps opaque bearer tokens issued by the host system to user ids.
type AuthConfig struct {
	Tokens map[string]string `toml:"tokens"`
}

// LogConfig sets the minimum log level.
type LogConfig struct {
	Level string `toml:"level" env:"PLAYSYNC_LOG_LEVEL"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Load resolves the effective configuration: the file at path (or the embedded
// defaults when it does not exist), then a .env file in the working directory,
// then process environment variables.
func Load(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		config = DefaultConfig()
	} else if err != nil {
		return nil, err
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays environment variables onto config. Variables from a .env
// file are loaded first without overriding the process environment.
func ApplyEnv(config *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.Parse(config); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate reports the first setting that prevents the service from starting.
func (c *Config) Validate() error {
	sp := c.Credentials.Spotify
	switch {
	case sp.ClientID == "" || sp.ClientSecret == "":
		return fmt.Errorf("%w: spotify client_id and client_secret are required", ErrMissingCredentials)
	case sp.RedirectURI == "":
		return fmt.Errorf("%w: spotify redirect_uri is required", ErrInvalidConfig)
	case len(sp.Scopes) == 0:
		return fmt.Errorf("%w: at least one spotify scope is required", ErrInvalidConfig)
	case len(c.Security.EncryptionKey) < MinEncryptionKeyLength:
		return fmt.Errorf("%w: encryption_key must be at least %d characters", ErrInvalidConfig, MinEncryptionKeyLength)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	case c.Sync.PageSize < 1 || c.Sync.PageSize > 50:
		return fmt.Errorf("%w: sync page_size must be between 1 and 50", ErrInvalidConfig)
	case c.State.TTLMinutes <= 0:
		return fmt.Errorf("%w: state ttl_minutes must be positive", ErrInvalidConfig)
	case c.Provider.TimeoutSeconds <= 0:
		return fmt.Errorf("%w: provider timeout_seconds must be positive", ErrInvalidConfig)
	case c.Provider.MaxRetries < 0:
		return fmt.Errorf("%w: provider max_retries cannot be negative", ErrInvalidConfig)
	case c.Provider.MaxWaitSeconds < 0:
		return fmt.Errorf("%w: provider max_wait_seconds cannot be negative", ErrInvalidConfig)
	case c.Sync.TimeoutSeconds <= 0:
		return fmt.Errorf("%w: sync timeout_seconds must be positive", ErrInvalidConfig)
	}

	u, err := url.Parse(c.Server.FrontendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: frontend_url %q must be an absolute URL", ErrInvalidConfig, c.Server.FrontendURL)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
