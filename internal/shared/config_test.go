package shared

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Credentials.Spotify.ClientID = "client"
	c.Credentials.Spotify.ClientSecret = "secret"
	c.Security.EncryptionKey = strings.Repeat("k", MinEncryptionKeyLength)
	return c
}

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./playsync.db" {
			t.Errorf("expected database path ./playsync.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Credentials.Spotify.ClientID != "your_spotify_client_id" {
			t.Errorf("expected spotify client_id your_spotify_client_id, got %s", config.Credentials.Spotify.ClientID)
		}

		if len(config.Credentials.Spotify.Scopes) != 3 {
			t.Errorf("expected 3 default scopes, got %v", config.Credentials.Spotify.Scopes)
		}

		if config.State.TTL() != 10*time.Minute {
			t.Errorf("expected state ttl 10m, got %v", config.State.TTL())
		}

		if config.Provider.MaxRetries != 3 {
			t.Errorf("expected 3 provider retries, got %d", config.Provider.MaxRetries)
		}

		if config.Sync.PageSize != 50 {
			t.Errorf("expected page size 50, got %d", config.Sync.PageSize)
		}

		if config.Provider.MaxWait() != 15*time.Second {
			t.Errorf("expected provider max wait 15s, got %v", config.Provider.MaxWait())
		}

		if config.Sync.Timeout() >= time.Duration(config.Server.WriteTimeout)*time.Second {
			t.Errorf("sync timeout %v must end before the %ds write timeout", config.Sync.Timeout(), config.Server.WriteTimeout)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"

[auth.tokens]
"token-abc" = "user-1"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("expected addr 0.0.0.0:8080, got %s", config.Server.Addr())
		}

		if config.Credentials.Spotify.ClientID != "test_client_id" {
			t.Errorf("expected spotify client_id test_client_id, got %s", config.Credentials.Spotify.ClientID)
		}

		if config.Database.MaxOpenConns != 10 {
			t.Errorf("expected missing keys to keep defaults, got max_open_conns %d", config.Database.MaxOpenConns)
		}

		if config.Auth.Tokens["token-abc"] != "user-1" {
			t.Errorf("expected auth token mapping, got %v", config.Auth.Tokens)
		}
	})

	t.Run("Load falls back to defaults when file is missing", func(t *testing.T) {
		config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if config.Server.Port != 3000 {
			t.Errorf("expected default port, got %d", config.Server.Port)
		}
	})

	t.Run("Load applies environment overrides", func(t *testing.T) {
		t.Setenv("SPOTIFY_CLIENT_ID", "env-client")
		t.Setenv("SPOTIFY_SCOPES", "user-read-recently-played,user-top-read")
		t.Setenv("PLAYSYNC_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
		t.Setenv("PLAYSYNC_PORT", "9090")
		t.Setenv("PLAYSYNC_REDIS_URL", "redis://localhost:6379/0")

		config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if config.Credentials.Spotify.ClientID != "env-client" {
			t.Errorf("expected env client id, got %s", config.Credentials.Spotify.ClientID)
		}
		if got := config.Credentials.Spotify.Scopes; len(got) != 2 || got[1] != "user-top-read" {
			t.Errorf("expected scopes from env, got %v", got)
		}
		if config.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", config.Server.Port)
		}
		if config.State.RedisURL != "redis://localhost:6379/0" {
			t.Errorf("expected redis url from env, got %s", config.State.RedisURL)
		}
		if config.Credentials.Spotify.ClientSecret != "your_spotify_client_secret" {
			t.Errorf("unset env vars should keep file values, got %s", config.Credentials.Spotify.ClientSecret)
		}
	})

	t.Run("Load rejects malformed env values", func(t *testing.T) {
		t.Setenv("PLAYSYNC_PORT", "not-a-number")

		_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := validConfig().Validate(); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing client id", func(c *Config) { c.Credentials.Spotify.ClientID = "" }, ErrMissingCredentials},
		{"missing redirect", func(c *Config) { c.Credentials.Spotify.RedirectURI = "" }, ErrInvalidConfig},
		{"no scopes", func(c *Config) { c.Credentials.Spotify.Scopes = nil }, ErrInvalidConfig},
		{"short key", func(c *Config) { c.Security.EncryptionKey = "short" }, ErrInvalidConfig},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, ErrInvalidConfig},
		{"page size too large", func(c *Config) { c.Sync.PageSize = 51 }, ErrInvalidConfig},
		{"zero ttl", func(c *Config) { c.State.TTLMinutes = 0 }, ErrInvalidConfig},
		{"negative max wait", func(c *Config) { c.Provider.MaxWaitSeconds = -1 }, ErrInvalidConfig},
		{"zero sync timeout", func(c *Config) { c.Sync.TimeoutSeconds = 0 }, ErrInvalidConfig},
		{"relative frontend", func(c *Config) { c.Server.FrontendURL = "/settings" }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			if err := c.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
