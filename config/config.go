package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl"
)

// Config carries the options the storage core recognizes, plus the paths the
// database container needs. Zero values mean "use the default"; Normalize
// fills them in.
type Config struct {
	// NumPages is the buffer pool capacity in pages.
	NumPages int `hcl:"num_pages"`
	// SharedLockTimeoutMs bounds the wait for a shared page lock.
	SharedLockTimeoutMs int `hcl:"shared_lock_timeout_ms"`
	// ExclusiveLockTimeoutMs bounds the wait for an exclusive page lock.
	// Deliberately longer than the shared timeout so writers out-wait
	// readers.
	ExclusiveLockTimeoutMs int `hcl:"exclusive_lock_timeout_ms"`
	// DataDir holds the heap files.
	DataDir string `hcl:"data_dir"`
	// LogPath is the write-ahead log file.
	LogPath string `hcl:"log_path"`
	// LogLevel is the logrus level for the process.
	LogLevel string `hcl:"log_level"`
}

const (
	DefaultNumPages               = 50
	DefaultSharedLockTimeoutMs    = 100
	DefaultExclusiveLockTimeoutMs = 1000
)

// Default returns the configuration a database gets with no config file and
// no flags.
func Default() Config {
	return Config{
		NumPages:               DefaultNumPages,
		SharedLockTimeoutMs:    DefaultSharedLockTimeoutMs,
		ExclusiveLockTimeoutMs: DefaultExclusiveLockTimeoutMs,
		DataDir:                "data",
		LogPath:                "simpledb.log",
		LogLevel:               "info",
	}
}

// Normalize fills zero-valued fields from the defaults and validates the
// rest.
func (c *Config) Normalize() error {
	def := Default()
	if c.NumPages == 0 {
		c.NumPages = def.NumPages
	}
	if c.SharedLockTimeoutMs == 0 {
		c.SharedLockTimeoutMs = def.SharedLockTimeoutMs
	}
	if c.ExclusiveLockTimeoutMs == 0 {
		c.ExclusiveLockTimeoutMs = def.ExclusiveLockTimeoutMs
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.NumPages < 1 {
		return fmt.Errorf("num_pages must be at least 1, got %d", c.NumPages)
	}
	if c.SharedLockTimeoutMs < 0 || c.ExclusiveLockTimeoutMs < 0 {
		return fmt.Errorf("lock timeouts cannot be negative")
	}
	return nil
}

// SharedLockTimeout returns the shared deadline as a duration.
func (c Config) SharedLockTimeout() time.Duration {
	return time.Duration(c.SharedLockTimeoutMs) * time.Millisecond
}

// ExclusiveLockTimeout returns the exclusive deadline as a duration.
func (c Config) ExclusiveLockTimeout() time.Duration {
	return time.Duration(c.ExclusiveLockTimeoutMs) * time.Millisecond
}

// Load decodes an HCL config file over the defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes HCL bytes over the defaults.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := hcl.Decode(&cfg, string(b)); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
