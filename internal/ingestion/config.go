package ingestion

import (
	"path"
	"strings"
	"time"

	"github.com/smallbiznis/nfsync/internal/config"
)

// Config controls where the ingestion loop reads from and where it files
// documents once handled.
type Config struct {
	Enabled           bool
	Delay             time.Duration
	SourceDir         string
	ProcessedDir      string
	ErrorDir          string
	FileTimeout       time.Duration
	DuplicatePolicy   string
	EnsureDirectories bool
	LockKey           string
	LockTTL           time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Delay:             time.Minute,
		SourceDir:         "/nfs/NFe",
		FileTimeout:       2 * time.Minute,
		DuplicatePolicy:   config.DuplicatePolicyFail,
		EnsureDirectories: true,
		LockKey:           "nfsync:ingestion:run",
		LockTTL:           30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:           cfg.Ingestion.Enabled,
		Delay:             cfg.Ingestion.Delay,
		SourceDir:         cfg.Ingestion.SourceDir,
		ProcessedDir:      cfg.Ingestion.ProcessedDir,
		ErrorDir:          cfg.Ingestion.ErrorDir,
		FileTimeout:       cfg.Ingestion.FileTimeout,
		DuplicatePolicy:   cfg.Ingestion.DuplicatePolicy,
		EnsureDirectories: cfg.Ingestion.EnsureDirectories,
		LockKey:           cfg.Redis.LockKey,
		LockTTL:           cfg.Redis.LockTTL,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	c.SourceDir = strings.TrimRight(strings.TrimSpace(c.SourceDir), "/")
	if c.SourceDir == "" {
		c.SourceDir = defaults.SourceDir
	}
	if c.Delay <= 0 {
		c.Delay = defaults.Delay
	}
	if c.FileTimeout <= 0 {
		c.FileTimeout = defaults.FileTimeout
	}
	if c.DuplicatePolicy == "" {
		c.DuplicatePolicy = defaults.DuplicatePolicy
	}
	if c.LockKey == "" {
		c.LockKey = defaults.LockKey
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	c.ProcessedDir = strings.TrimRight(strings.TrimSpace(c.ProcessedDir), "/")
	if c.ProcessedDir == "" {
		c.ProcessedDir = path.Join(c.SourceDir, "processed")
	}
	c.ErrorDir = strings.TrimRight(strings.TrimSpace(c.ErrorDir), "/")
	if c.ErrorDir == "" {
		c.ErrorDir = deriveErrorDir(c.SourceDir)
	}
	return c
}

func (c Config) validate() error {
	switch c.DuplicatePolicy {
	case config.DuplicatePolicyFail, config.DuplicatePolicyProcessed:
	default:
		return ErrInvalidConfig
	}
	if c.ProcessedDir == c.SourceDir || c.ErrorDir == c.SourceDir {
		return ErrInvalidConfig
	}
	return nil
}

// deriveErrorDir swaps an "NFe" path segment for "error", so /nfs/NFe files
// land in /nfs/error. Sources without that segment get an error child.
func deriveErrorDir(source string) string {
	withSlash := source + "/"
	if swapped := strings.ReplaceAll(withSlash, "/NFe/", "/error/"); swapped != withSlash {
		return strings.TrimRight(swapped, "/")
	}
	return path.Join(source, "error")
}
