package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stepwright.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 0.6, cfg.Matcher.Threshold)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
}

func TestLoadPartialFileKeepsDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, `
browser:
  headless: false
matcher:
  threshold: 0.7
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 0.7, cfg.Matcher.Threshold)
	assert.Equal(t, 10*time.Second, cfg.Browser.ActionTimeout)
	assert.Equal(t, ".stepwright/cache.json", cfg.Cache.Path)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
browser:
  action_timeout: 15s
  navigation_timeout: 1m
executor:
  assert_timeout: 8s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Browser.ActionTimeout)
	assert.Equal(t, time.Minute, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 8*time.Second, cfg.Executor.AssertTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
browser:
  headless: true
cache:
  path: from-file.json
`)
	t.Setenv("STEPWRIGHT_HEADLESS", "false")
	t.Setenv("STEPWRIGHT_CACHE_PATH", "from-env.json")
	t.Setenv("STEPWRIGHT_THRESHOLD", "0.55")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "from-env.json", cfg.Cache.Path)
	assert.Equal(t, 0.55, cfg.Matcher.Threshold)
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestMalformedYAMLIsAnError(t *testing.T) {
	path := writeConfig(t, "browser: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestThresholdOutOfRangeRejected(t *testing.T) {
	t.Setenv("STEPWRIGHT_THRESHOLD", "1.5")
	_, err := Load("")
	assert.Error(t, err)
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("STEPWRIGHT_HEADLESS", "off")
	assert.False(t, parseBoolEnv("STEPWRIGHT_HEADLESS", true))
	t.Setenv("STEPWRIGHT_HEADLESS", "YES")
	assert.True(t, parseBoolEnv("STEPWRIGHT_HEADLESS", false))
	t.Setenv("STEPWRIGHT_HEADLESS", "banana")
	assert.True(t, parseBoolEnv("STEPWRIGHT_HEADLESS", true))
}
