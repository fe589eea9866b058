// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/camille/lib/blob"
)

// DefaultWindowSize is the number of history messages kept per turn.
const DefaultWindowSize = 1024

// History backends.
const (
	BackendSQLite  = "sqlite"
	BackendPebble  = "pebble"
	BackendCouchDB = "couchdb"
	BackendMemory  = "memory"
)

// Model providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// Config is the master configuration for camille.
type Config struct {
	// Servers lists the Mattermost servers to attach to. One session
	// runs per server.
	Servers []ServerConfig `yaml:"servers"`

	// Models names the available model profiles. Users pick one with
	// the set_model_preference tool.
	Models map[string]ModelConfig `yaml:"models"`

	// DefaultModel names the profile used when the sender has no
	// preference.
	DefaultModel string `yaml:"default_model"`

	// WindowSize bounds the history sent per turn, in messages.
	// Default: 1024
	WindowSize int `yaml:"window_size"`

	// IgnoreChannels lists channel names whose posts are never
	// answered. Default: [town-square]
	IgnoreChannels []string `yaml:"ignore_channels"`

	// History configures conversation persistence.
	History HistoryConfig `yaml:"history"`

	// StateDir holds the SQLite or pebble history and the entity cache
	// snapshots.
	StateDir string `yaml:"state_dir"`

	Admin AdminConfig `yaml:"admin"`
	Log   LogConfig   `yaml:"log"`
	Fetch FetchConfig `yaml:"fetch"`
}

// ServerConfig identifies one Mattermost server.
type ServerConfig struct {
	// Name labels logs, metrics and the snapshot file. Must be unique.
	Name string `yaml:"name"`

	// URL is the server root, e.g. https://chat.example.org.
	URL string `yaml:"url"`

	// Token is the bot's access token. Prefer TokenFile or the
	// CAMILLE_SERVER_<NAME>_TOKEN(_FILE) variables.
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// RequestsPerSecond caps REST traffic. Zero selects the client
	// default.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ModelConfig is one model profile.
type ModelConfig struct {
	// Provider is anthropic, openai or gemini. The openai provider
	// speaks the chat completions protocol and serves any compatible
	// endpoint.
	Provider string `yaml:"provider"`

	// Model is the provider's model identifier.
	Model string `yaml:"model"`

	// Description is shown by list_model_profiles.
	Description string `yaml:"description"`

	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`

	MaxTokens   int      `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`

	// Personality is the standing instruction given to the model at
	// the start of every conversation. "{name}" is replaced with the
	// bot's display name.
	Personality string `yaml:"personality"`
}

// HistoryConfig selects the history backend.
type HistoryConfig struct {
	// Backend is sqlite (append-only log per thread), pebble or
	// couchdb (one revisioned document per channel), or memory.
	// Default: sqlite
	Backend string `yaml:"backend"`

	// Compression applies to stored transcripts and cache snapshots:
	// none, lz4 or zstd. Default: zstd
	Compression string `yaml:"compression"`

	CouchDB CouchDBConfig `yaml:"couchdb"`
}

// CouchDBConfig locates the CouchDB database of the couchdb backend.
type CouchDBConfig struct {
	// URL is the database URL, e.g. http://localhost:5984/camille.
	URL          string `yaml:"url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	// Listen is the address of the /healthz and /metrics endpoints.
	// Empty disables the server. Default: 127.0.0.1:9464
	Listen string `yaml:"listen"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`
}

// FetchConfig configures the fetch_url tool.
type FetchConfig struct {
	// Disabled removes the tool.
	Disabled bool `yaml:"disabled"`

	// UserAgent defaults to the fetcher's own.
	UserAgent string `yaml:"user_agent"`
}

// Default returns the default configuration. Servers and models have
// no defaults; the config file must name them.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		WindowSize:     DefaultWindowSize,
		IgnoreChannels: []string{"town-square"},
		History: HistoryConfig{
			Backend:     BackendSQLite,
			Compression: "zstd",
		},
		StateDir: filepath.Join(homeDir, ".local", "state", "camille"),
		Admin:    AdminConfig{Listen: "127.0.0.1:9464"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load loads configuration from the CAMILLE_CONFIG environment
// variable. There is no fallback: if it is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("CAMILLE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CAMILLE_CONFIG environment variable not set; " +
			"set it to the path of your camille.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. It loads the
// .env file of the working directory first, expands ${VAR} references
// in the file, then applies CAMILLE_* overrides.
func LoadFile(path string) (*Config, error) {
	if err := LoadDotenv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	if err := cfg.applyEnvironment(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotenv loads the given .env files into the process environment
// without overriding variables already set. Missing files are skipped.
func LoadDotenv(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: loading %s: %w", path, err)
		}
	}
	return nil
}

// loadFile loads a single configuration file, merging into the current
// config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// applyEnvironment applies the CAMILLE_* overrides. lookup is
// os.LookupEnv outside of tests.
func (c *Config) applyEnvironment(lookup func(string) (string, bool)) error {
	if value, ok := lookup("CAMILLE_WINDOW_SIZE"); ok && value != "" {
		size, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: CAMILLE_WINDOW_SIZE: %w", err)
		}
		c.WindowSize = size
	}
	if value, ok := lookup("CAMILLE_STATE_DIR"); ok && value != "" {
		c.StateDir = value
	}
	if value, ok := lookup("CAMILLE_LOG_LEVEL"); ok && value != "" {
		c.Log.Level = value
	}
	if value, ok := lookup("CAMILLE_ADMIN_LISTEN"); ok {
		c.Admin.Listen = value
	}
	if value, ok := lookup("CAMILLE_DEFAULT_MODEL"); ok && value != "" {
		c.DefaultModel = value
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in string
// values that commonly carry deployment-specific paths and addresses.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
	vars["CAMILLE_STATE_DIR"] = c.StateDir

	c.Admin.Listen = expandVars(c.Admin.Listen, vars)
	c.History.CouchDB.URL = expandVars(c.History.CouchDB.URL, vars)
	c.History.CouchDB.Username = expandVars(c.History.CouchDB.Username, vars)
	c.History.CouchDB.Password = expandVars(c.History.CouchDB.Password, vars)
	c.History.CouchDB.PasswordFile = expandVars(c.History.CouchDB.PasswordFile, vars)
	for i := range c.Servers {
		server := &c.Servers[i]
		server.URL = expandVars(server.URL, vars)
		server.Token = expandVars(server.Token, vars)
		server.TokenFile = expandVars(server.TokenFile, vars)
	}
	for name, model := range c.Models {
		model.BaseURL = expandVars(model.BaseURL, vars)
		model.APIKey = expandVars(model.APIKey, vars)
		model.APIKeyFile = expandVars(model.APIKeyFile, vars)
		c.Models[name] = model
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var serverNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Servers) == 0 {
		errs = append(errs, fmt.Errorf("servers: at least one server is required"))
	}
	seen := make(map[string]bool)
	for i, server := range c.Servers {
		switch {
		case !serverNamePattern.MatchString(server.Name):
			errs = append(errs, fmt.Errorf("servers[%d].name %q must match %s", i, server.Name, serverNamePattern))
		case seen[server.Name]:
			errs = append(errs, fmt.Errorf("servers[%d].name %q is not unique", i, server.Name))
		}
		seen[server.Name] = true
		if server.URL == "" {
			errs = append(errs, fmt.Errorf("servers[%d].url is required", i))
		}
	}

	if len(c.Models) == 0 {
		errs = append(errs, fmt.Errorf("models: at least one model profile is required"))
	}
	for name, model := range c.Models {
		switch model.Provider {
		case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		default:
			errs = append(errs, fmt.Errorf("models.%s.provider must be one of: %s, %s, %s",
				name, ProviderAnthropic, ProviderOpenAI, ProviderGemini))
		}
		if model.Model == "" {
			errs = append(errs, fmt.Errorf("models.%s.model is required", name))
		}
		if model.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("models.%s.max_tokens must not be negative", name))
		}
	}
	if _, ok := c.Models[c.DefaultModel]; !ok {
		errs = append(errs, fmt.Errorf("default_model %q is not a configured model", c.DefaultModel))
	}

	if c.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("window_size must not be negative"))
	}

	switch c.History.Backend {
	case BackendSQLite, BackendPebble, BackendMemory:
	case BackendCouchDB:
		if c.History.CouchDB.URL == "" {
			errs = append(errs, fmt.Errorf("history.couchdb.url is required for the couchdb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend must be one of: %s, %s, %s, %s",
			BackendSQLite, BackendPebble, BackendCouchDB, BackendMemory))
	}
	if _, err := blob.ParseCompressionTag(c.History.Compression); err != nil {
		errs = append(errs, fmt.Errorf("history.compression: %w", err))
	}

	if c.StateDir == "" {
		errs = append(errs, fmt.Errorf("state_dir is required"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the state directory if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", c.StateDir, err)
	}
	return nil
}

// SnapshotPath returns where the entity cache of server is persisted.
func (c *Config) SnapshotPath(server string) string {
	return filepath.Join(c.StateDir, server+".cache")
}

// HistoryPath returns the database path of the sqlite backend, or the
// directory of the pebble backend.
func (c *Config) HistoryPath() string {
	switch c.History.Backend {
	case BackendPebble:
		return filepath.Join(c.StateDir, "history.pebble")
	default:
		return filepath.Join(c.StateDir, "history.sqlite")
	}
}

// envName maps a server or profile name to its variable-name fragment:
// "chat-eu" becomes "CHAT_EU".
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
