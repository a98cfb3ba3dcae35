package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server settings. Values resolve in order:
// built-in defaults, then the YAML config file, then command flags.
type Config struct {
	// DataDir is the root of the on-disk data tree. The derived
	// paths below default to subdirectories of it when empty.
	DataDir string `yaml:"dataDir"`

	// Listen is the HTTP API bind address
	Listen string `yaml:"listen"`

	// Derived storage paths (set explicitly to split across disks)
	BlobDir       string `yaml:"blobDir,omitempty"`
	MetaDir       string `yaml:"metaDir,omitempty"`
	SRSKeyDir     string `yaml:"srsKeyDir,omitempty"`
	UserKeyDir    string `yaml:"userKeyDir,omitempty"`
	DBPath        string `yaml:"dbPath,omitempty"`
	AuditPath     string `yaml:"auditPath,omitempty"`
	SessionDBPath string `yaml:"sessionDBPath,omitempty"`

	// Session settings. The config file gives sessionTTL in Go
	// duration syntax ("12h", "30m"); Load parses it into SessionTTL.
	SessionTTL    time.Duration `yaml:"-"`
	RawSessionTTL string        `yaml:"sessionTTL,omitempty"`
	CookieSecure  bool          `yaml:"cookieSecure"`

	// Logging
	LogLevel  string `yaml:"logLevel"`
	LogPretty bool   `yaml:"logPretty"`
}

// Default returns the development defaults
func Default() *Config {
	return &Config{
		DataDir:    "./medlock-data",
		Listen:     ":5000",
		SessionTTL: 12 * time.Hour,
		LogLevel:   "info",
	}
}

// Load reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		cfg.resolvePaths()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.RawSessionTTL != "" {
		ttl, err := time.ParseDuration(cfg.RawSessionTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sessionTTL: %w", err)
		}
		cfg.SessionTTL = ttl
	}

	cfg.resolvePaths()
	return cfg, nil
}

// resolvePaths fills derived paths from DataDir where unset
func (c *Config) resolvePaths() {
	if c.BlobDir == "" {
		c.BlobDir = filepath.Join(c.DataDir, "cloud", "data")
	}
	if c.MetaDir == "" {
		c.MetaDir = filepath.Join(c.DataDir, "cloud", "meta")
	}
	if c.SRSKeyDir == "" {
		c.SRSKeyDir = filepath.Join(c.DataDir, "cloud", "keys", "srs")
	}
	if c.UserKeyDir == "" {
		c.UserKeyDir = filepath.Join(c.DataDir, "cloud", "keys", "users")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "medlock.db")
	}
	if c.AuditPath == "" {
		c.AuditPath = filepath.Join(c.DataDir, "audit.log")
	}
	if c.SessionDBPath == "" {
		c.SessionDBPath = filepath.Join(c.DataDir, "sessions.db")
	}
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must not be empty")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("sessionTTL must be positive, got %s", c.SessionTTL)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}
	return nil
}

// EnsureDirs creates the on-disk data tree. Key and data
// directories are private to the service user.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.BlobDir,
		c.MetaDir,
		c.SRSKeyDir,
		c.UserKeyDir,
		filepath.Dir(c.DBPath),
		filepath.Dir(c.AuditPath),
		filepath.Dir(c.SessionDBPath),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
