package ingestion

import (
	"testing"
	"time"

	"github.com/smallbiznis/nfsync/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestDeriveErrorDir(t *testing.T) {
	cases := map[string]string{
		"/nfs/NFe":       "/nfs/error",
		"/Ftp/nfs/NFe":   "/Ftp/nfs/error",
		"/NFe/2024":      "/error/2024",
		"/incoming":      "/incoming/error",
		"/nfs/NFeextras": "/nfs/NFeextras/error",
	}
	for source, want := range cases {
		assert.Equal(t, want, deriveErrorDir(source), source)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{SourceDir: "/nfs/NFe/"}.withDefaults()

	assert.Equal(t, "/nfs/NFe", cfg.SourceDir)
	assert.Equal(t, "/nfs/NFe/processed", cfg.ProcessedDir)
	assert.Equal(t, "/nfs/error", cfg.ErrorDir)
	assert.Equal(t, time.Minute, cfg.Delay)
	assert.Equal(t, 2*time.Minute, cfg.FileTimeout)
	assert.Equal(t, config.DuplicatePolicyFail, cfg.DuplicatePolicy)
	assert.NoError(t, cfg.validate())
}

func TestConfigKeepsExplicitDirectories(t *testing.T) {
	cfg := Config{SourceDir: "/in", ProcessedDir: "/done/", ErrorDir: "/bad"}.withDefaults()

	assert.Equal(t, "/done", cfg.ProcessedDir)
	assert.Equal(t, "/bad", cfg.ErrorDir)
}

func TestConfigRejectsSourceAsTarget(t *testing.T) {
	cfg := Config{SourceDir: "/in", ProcessedDir: "/in"}.withDefaults()
	assert.ErrorIs(t, cfg.validate(), ErrInvalidConfig)
}
