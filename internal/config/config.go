// Package config loads runtime settings from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Cache    CacheConfig    `yaml:"cache"`
	Executor ExecutorConfig `yaml:"executor"`
}

// BrowserConfig controls browser lifecycle and timeouts.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	SnapshotTTL       time.Duration `yaml:"snapshot_ttl"`
}

// MatcherConfig tunes element resolution.
type MatcherConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// CacheConfig controls the persistent element cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Path       string        `yaml:"path"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ExecutorConfig tunes step execution.
type ExecutorConfig struct {
	ScreenshotDir string        `yaml:"screenshot_dir"`
	AssertTimeout time.Duration `yaml:"assert_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Browser: BrowserConfig{
			Headless:          true,
			ActionTimeout:     10 * time.Second,
			NavigationTimeout: 30 * time.Second,
			SnapshotTTL:       500 * time.Millisecond,
		},
		Matcher: MatcherConfig{Threshold: 0.6},
		Cache: CacheConfig{
			Enabled:    true,
			Path:       ".stepwright/cache.json",
			TTL:        24 * time.Hour,
			MaxEntries: 500,
		},
		Executor: ExecutorConfig{
			ScreenshotDir: ".",
			AssertTimeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML file when path is non-empty, applies environment
// overrides, and validates the result. An empty path yields defaults
// plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
		cfg.applyDefaults()
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial YAML file. Headless
// and cache.enabled keep whatever the file said.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Browser.ActionTimeout <= 0 {
		c.Browser.ActionTimeout = def.Browser.ActionTimeout
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = def.Browser.NavigationTimeout
	}
	if c.Browser.SnapshotTTL <= 0 {
		c.Browser.SnapshotTTL = def.Browser.SnapshotTTL
	}
	if c.Matcher.Threshold <= 0 {
		c.Matcher.Threshold = def.Matcher.Threshold
	}
	if c.Cache.Path == "" {
		c.Cache.Path = def.Cache.Path
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Executor.ScreenshotDir == "" {
		c.Executor.ScreenshotDir = def.Executor.ScreenshotDir
	}
	if c.Executor.AssertTimeout <= 0 {
		c.Executor.AssertTimeout = def.Executor.AssertTimeout
	}
}

func (c *Config) applyEnv() {
	c.Browser.Headless = parseBoolEnv("STEPWRIGHT_HEADLESS", c.Browser.Headless)
	c.Cache.Enabled = parseBoolEnv("STEPWRIGHT_CACHE", c.Cache.Enabled)
	if v := strings.TrimSpace(os.Getenv("STEPWRIGHT_CACHE_PATH")); v != "" {
		c.Cache.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("STEPWRIGHT_SCREENSHOT_DIR")); v != "" {
		c.Executor.ScreenshotDir = v
	}
	if v := strings.TrimSpace(os.Getenv("STEPWRIGHT_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Matcher.Threshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("STEPWRIGHT_ASSERT_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Executor.AssertTimeout = d
		}
	}
}

func (c *Config) validate() error {
	if c.Matcher.Threshold < 0 || c.Matcher.Threshold > 1 {
		return fmt.Errorf("matcher.threshold %v out of range [0, 1]", c.Matcher.Threshold)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	return nil
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
