// Package config handles loading and managing formvault configuration.
package config

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort         int      `toml:"api_port"`         // HTTP server port (default: 8080)
	BindAddr        string   `toml:"bind_addr"`        // Listen address (default: 127.0.0.1)
	CORSOrigins     []string `toml:"cors_origins"`     // Allowed CORS origins; empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"` // Allow credentialed CORS requests
	CORSMaxAge      int      `toml:"cors_max_age"`     // Preflight cache seconds
	RateLimitRPS    float64  `toml:"rate_limit_rps"`   // Per-client requests per second
	RateLimitBurst  int      `toml:"rate_limit_burst"`
}

// IsLoopback reports whether BindAddr only accepts local connections.
func (s ServerConfig) IsLoopback() bool {
	switch s.BindAddr {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	ip := net.ParseIP(s.BindAddr)
	return ip != nil && ip.IsLoopback()
}

// ResultsConfig controls form result listing.
type ResultsConfig struct {
	PageLimit       int    `toml:"page_limit"`
	DefaultOrderBy  string `toml:"default_order_by"`
	DefaultOrderDir string `toml:"default_order_dir"`
}

// SearchConfig selects the locale of the search command vocabulary.
type SearchConfig struct {
	Locale string `toml:"locale"`
}

// PreferencesConfig controls pruning of stored viewer preferences.
type PreferencesConfig struct {
	PruneSchedule string `toml:"prune_schedule"` // Cron expression (e.g., "0 3 * * *" for 3am daily)
	MaxAge        string `toml:"max_age"`        // Go duration; preferences untouched this long are removed
}

// MaxAgeDuration parses MaxAge. An empty value disables pruning and yields 0.
func (p PreferencesConfig) MaxAgeDuration() (time.Duration, error) {
	if p.MaxAge == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.MaxAge)
	if err != nil {
		return 0, fmt.Errorf("preferences.max_age: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("preferences.max_age: must not be negative")
	}
	return d, nil
}

// UserConfig maps an API key to a viewer identity.
type UserConfig struct {
	ID     int64    `toml:"id"`
	Name   string   `toml:"name"`
	APIKey string   `toml:"api_key"`
	Roles  []string `toml:"roles"`
}

// RoleConfig names a set of capabilities such as "form:forms:viewown".
type RoleConfig struct {
	Name        string   `toml:"name"`
	Permissions []string `toml:"permissions"`
	Inherits    []string `toml:"inherits"`
}

// Config represents the formvault configuration.
type Config struct {
	Data        DataConfig        `toml:"data"`
	Server      ServerConfig      `toml:"server"`
	Results     ResultsConfig     `toml:"results"`
	Search      SearchConfig      `toml:"search"`
	Preferences PreferencesConfig `toml:"preferences"`
	Users       []UserConfig      `toml:"users"`
	Roles       []RoleConfig      `toml:"roles"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// AdminRole is the built-in role that passes every capability check.
const AdminRole = "admin"

// DefaultHome returns the default formvault home directory.
// Respects FORMVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("FORMVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formvault"
	}
	return filepath.Join(home, ".formvault")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newDefaultConfig(DefaultHome())
}

func newDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Server: ServerConfig{
			APIPort:        8080,
			BindAddr:       "127.0.0.1",
			CORSMaxAge:     86400,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Results: ResultsConfig{
			PageLimit:       30,
			DefaultOrderBy:  "s.date_submitted",
			DefaultOrderDir: "ASC",
		},
		Search: SearchConfig{
			Locale: "en",
		},
		Preferences: PreferencesConfig{
			PruneSchedule: "0 3 * * *",
			MaxAge:        "720h",
		},
	}
}

// Load reads the configuration from the specified file.
//
// If path is empty, config.toml is read from homeDir, or from DefaultHome
// when homeDir is also empty; a missing default file yields defaults. An
// explicit path must exist, and relative paths inside it resolve against the
// file's directory, which also becomes HomeDir.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	if homeDir != "" {
		homeDir = expandPath(homeDir)
	} else {
		homeDir = DefaultHome()
	}

	if explicit {
		path = expandPath(path)
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
		homeDir = filepath.Dir(path)
	} else {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := newDefaultConfig(homeDir)
	cfg.configPath = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(err)
	}

	cfg.Data.DataDir = resolvePath(expandPath(cfg.Data.DataDir), homeDir)

	return cfg, nil
}

// decodeError adds a hint for the common mistake of writing Windows paths
// with backslashes inside double-quoted TOML strings.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w\n"+
			"hint: backslashes in double-quoted strings are escapes; "+
			"use forward slashes (C:/Users/me/formvault) or single quotes ('C:\\Users\\me\\formvault')", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// ConfigFilePath returns the path the configuration was loaded from, or
// would be loaded from when no file exists.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// DatabaseDSN returns the SQLite database path or configured URL.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "formvault.db")
}

// ExportsDir returns the default directory for exported result files.
func (c *Config) ExportsDir() string {
	return filepath.Join(c.Data.DataDir, "exports")
}

// Validate checks cross-field consistency: unique user ids and API keys,
// roles that exist, and a parseable preference max age.
func (c *Config) Validate() error {
	var errs []error

	if c.Results.PageLimit <= 0 {
		errs = append(errs, fmt.Errorf("results.page_limit must be positive, got %d", c.Results.PageLimit))
	}
	if _, err := c.Preferences.MaxAgeDuration(); err != nil {
		errs = append(errs, err)
	}

	roles := map[string]bool{AdminRole: true}
	for _, r := range c.Roles {
		if r.Name == "" {
			errs = append(errs, errors.New("roles: role with empty name"))
			continue
		}
		if roles[r.Name] && r.Name != AdminRole {
			errs = append(errs, fmt.Errorf("roles: duplicate role %q", r.Name))
		}
		roles[r.Name] = true
	}
	for _, r := range c.Roles {
		for _, parent := range r.Inherits {
			if !roles[parent] {
				errs = append(errs, fmt.Errorf("roles: %q inherits unknown role %q", r.Name, parent))
			}
		}
	}

	ids := make(map[int64]bool)
	keys := make(map[string]bool)
	for _, u := range c.Users {
		if u.ID <= 0 {
			errs = append(errs, fmt.Errorf("users: %q must have a positive id", u.Name))
		} else if ids[u.ID] {
			errs = append(errs, fmt.Errorf("users: duplicate id %d", u.ID))
		}
		ids[u.ID] = true

		if u.APIKey == "" {
			errs = append(errs, fmt.Errorf("users: %q has no api_key", u.Name))
		} else if keys[u.APIKey] {
			errs = append(errs, fmt.Errorf("users: duplicate api_key for %q", u.Name))
		}
		keys[u.APIKey] = true

		for _, role := range u.Roles {
			if !roles[role] {
				errs = append(errs, fmt.Errorf("users: %q has unknown role %q", u.Name, role))
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateSecure refuses to expose the API beyond loopback when no users
// (and so no API keys) are configured.
func (c *Config) ValidateSecure() error {
	if len(c.Users) == 0 && !c.Server.IsLoopback() {
		return fmt.Errorf("refusing to bind %s without authentication: add [[users]] with api_key to %s",
			c.Server.BindAddr, c.ConfigFilePath())
	}
	return nil
}

// UserByAPIKey returns a copy of the user holding key, or nil. Every
// configured key is compared in constant time.
func (c *Config) UserByAPIKey(key string) *UserConfig {
	if key == "" {
		return nil
	}
	var found *UserConfig
	for i := range c.Users {
		if c.Users[i].APIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(c.Users[i].APIKey)) == 1 && found == nil {
			u := c.Users[i]
			found = &u
		}
	}
	return found
}

// resolvePath makes a relative path absolute against base.
func resolvePath(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// expandPath expands ~ to the user's home directory. On Windows, matching
// surrounding quotes left by CMD are stripped first.
func expandPath(path string) string {
	if runtime.GOOS == "windows" && len(path) >= 2 {
		if (path[0] == '\'' && path[len(path)-1] == '\'') || (path[0] == '"' && path[len(path)-1] == '"') {
			path = path[1 : len(path)-1]
		}
	}
	if path == "" || path[0] != '~' {
		return path
	}
	if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
		// ~user is not expanded
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
