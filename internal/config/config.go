// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultPollInterval  = time.Minute
	DefaultHTTPTimeout   = 15 * time.Second
)

// Provider holds the OAuth client of one provider.
type Provider struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	// APIBaseURL overrides the resource API host used by plugins.
	APIBaseURL string
}

// Configured reports whether the provider can run OAuth flows.
func (p Provider) Configured() bool {
	return p.Enabled && p.ClientID != "" && p.ClientSecret != ""
}

type Config struct {
	Host      string
	Port      string
	PublicURL string

	DBPath   string
	RedisURL string

	TokenEncryptionKey string
	SessionSecret      string
	AdminPassword      string

	SweepInterval time.Duration
	PollInterval  time.Duration
	HTTPTimeout   time.Duration

	CORSOrigins []string

	Google  Provider
	Spotify Provider

	// Source is the YAML file that was loaded, empty when none.
	Source string
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// RedirectURL builds a callback URL under PublicURL.
func (c *Config) RedirectURL(path string) string {
	return strings.TrimRight(c.PublicURL, "/") + path
}

type fileConfig struct {
	Server struct {
		Host        string   `yaml:"host"`
		Port        string   `yaml:"port"`
		PublicURL   string   `yaml:"public_url"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Storage struct {
		DBPath   string `yaml:"db_path"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"storage"`
	Intervals struct {
		Sweep       string `yaml:"sweep"`
		Poll        string `yaml:"poll"`
		HTTPTimeout string `yaml:"http_timeout"`
	} `yaml:"intervals"`
	Providers map[string]providerFile `yaml:"providers"`
}

type providerFile struct {
	Enabled      *bool  `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// Load reads the YAML file named by AREA_CONFIG_FILE (or the first default
// location that exists) and applies environment overrides.
func Load() (*Config, error) {
	var file fileConfig
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	cfg := &Config{
		Host:      getEnv("HOST", or(file.Server.Host, "0.0.0.0")),
		Port:      getEnv("PORT", or(file.Server.Port, "8080")),
		PublicURL: getEnv("AREA_PUBLIC_URL", or(file.Server.PublicURL, "http://localhost:8080")),

		DBPath:   getEnv("AREA_DB_PATH", or(file.Storage.DBPath, "area.db")),
		RedisURL: getEnv("AREA_REDIS_URL", file.Storage.RedisURL),

		TokenEncryptionKey: getEnv("TOKEN_ENCRYPTION_KEY", ""),
		SessionSecret:      getEnv("AREA_SESSION_SECRET", ""),
		AdminPassword:      getEnv("AREA_ADMIN_PASSWORD", ""),

		CORSOrigins: parseList(getEnv("AREA_CORS_ORIGINS", strings.Join(file.Server.CORSOrigins, ","))),

		Google:  provider(file.Providers["google"], "GOOGLE"),
		Spotify: provider(file.Providers["spotify"], "SPOTIFY"),
		Source:  path,
	}

	if cfg.SweepInterval, err = duration("AREA_SWEEP_INTERVAL", file.Intervals.Sweep, DefaultSweepInterval); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = duration("AREA_POLL_INTERVAL", file.Intervals.Poll, DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = duration("AREA_HTTP_TIMEOUT", file.Intervals.HTTPTimeout, DefaultHTTPTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provider(f providerFile, envPrefix string) Provider {
	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	return Provider{
		Enabled:      enabled,
		ClientID:     getEnv(envPrefix+"_CLIENT_ID", f.ClientID),
		ClientSecret: getEnv(envPrefix+"_CLIENT_SECRET", f.ClientSecret),
		APIBaseURL:   getEnv(envPrefix+"_API_BASE_URL", f.APIBaseURL),
	}
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("AREA_CONFIG_FILE")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/area.yaml",
		"/etc/area-nexus/area.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "area-nexus", "area.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func duration(envKey, fileValue string, def time.Duration) (time.Duration, error) {
	raw := getEnv(envKey, strings.TrimSpace(fileValue))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration for %s: %q", envKey, raw)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func or(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
