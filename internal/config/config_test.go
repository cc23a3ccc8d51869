package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationOrMillis(t *testing.T) {
	assert.Equal(t, 60*time.Second, durationOrMillis("60000", time.Second))
	assert.Equal(t, 90*time.Second, durationOrMillis("90s", time.Second))
	assert.Equal(t, time.Second, durationOrMillis("", time.Second))
	assert.Equal(t, time.Second, durationOrMillis("nope", time.Second))
	assert.Equal(t, time.Second, durationOrMillis("-5", time.Second))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FTP_XMLS_DIR", "")
	t.Setenv("FILE_PROCESSING_DELAY", "")
	t.Setenv("DUPLICATE_POLICY", "")

	cfg := Load()

	assert.Equal(t, "/nfs/NFe", cfg.Ingestion.SourceDir)
	assert.Equal(t, time.Minute, cfg.Ingestion.Delay)
	assert.Equal(t, 2*time.Minute, cfg.Ingestion.FileTimeout)
	assert.Equal(t, DuplicatePolicyFail, cfg.Ingestion.DuplicatePolicy)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FTP_XMLS_DIR", "/data/NFe/")
	t.Setenv("FILE_PROCESSING_ENABLED", "false")
	t.Setenv("FILE_PROCESSING_DELAY", "1500")
	t.Setenv("DUPLICATE_POLICY", "PROCESSED")
	t.Setenv("REMOTE_STORE_TYPE", "Local")

	cfg := Load()

	assert.Equal(t, "/data/NFe", cfg.Ingestion.SourceDir)
	assert.False(t, cfg.Ingestion.Enabled)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ingestion.Delay)
	assert.Equal(t, DuplicatePolicyProcessed, cfg.Ingestion.DuplicatePolicy)
	assert.Equal(t, RemoteStoreLocal, cfg.RemoteStore.Type)
}

func TestRuntimeSettingsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nfsync.yml")
	require.NoError(t, os.WriteFile(path, []byte("ingestion:\n  enabled: false\n  delay: 5s\n"), 0o600))

	cfg := Config{RuntimeConfigFile: path}
	cfg.Ingestion.Enabled = true
	cfg.Ingestion.Delay = time.Minute

	holder, err := NewRuntimeSettingsHolder(cfg)
	require.NoError(t, err)

	got := holder.Get()
	assert.False(t, got.Enabled)
	assert.Equal(t, 5*time.Second, got.Delay)
}

func TestRuntimeSettingsMissingFileKeepsDefaults(t *testing.T) {
	cfg := Config{RuntimeConfigFile: filepath.Join(t.TempDir(), "absent.yml")}
	cfg.Ingestion.Enabled = true
	cfg.Ingestion.Delay = 42 * time.Second

	holder, err := NewRuntimeSettingsHolder(cfg)
	require.NoError(t, err)
	assert.Equal(t, RuntimeSettings{Enabled: true, Delay: 42 * time.Second}, holder.Get())
}
