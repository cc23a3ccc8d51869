package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RuntimeSettings are the ingestion knobs an operator can flip without a restart.
type RuntimeSettings struct {
	Enabled bool          `mapstructure:"enabled"`
	Delay   time.Duration `mapstructure:"delay"`
}

type RuntimeSettingsHolder struct {
	current atomic.Value // holds RuntimeSettings
}

// NewRuntimeSettingsHolder seeds runtime settings from cfg and, when an
// nfsync.yml is found, overlays and watches its "ingestion" section.
func NewRuntimeSettingsHolder(cfg Config) (*RuntimeSettingsHolder, error) {
	defaults := RuntimeSettings{
		Enabled: cfg.Ingestion.Enabled,
		Delay:   cfg.Ingestion.Delay,
	}

	holder := &RuntimeSettingsHolder{}
	holder.current.Store(defaults)

	v := viper.New()
	if cfg.RuntimeConfigFile != "" {
		v.SetConfigFile(cfg.RuntimeConfigFile)
	} else {
		v.SetConfigName("nfsync")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/nfsync")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("NFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetDefault("ingestion.enabled", defaults.Enabled)
	v.SetDefault("ingestion.delay", defaults.Delay)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return holder, nil
		}
		if cfg.RuntimeConfigFile == "" {
			return nil, err
		}
		// explicit file missing on disk: keep env-derived settings
		log.Printf("[runtime-config] %v", err)
		return holder, nil
	}

	loaded, err := readRuntimeSettings(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readRuntimeSettings(v)
		if err != nil {
			log.Printf("[runtime-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[runtime-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticRuntimeSettings returns a holder that never reloads.
func NewStaticRuntimeSettings(settings RuntimeSettings) *RuntimeSettingsHolder {
	holder := &RuntimeSettingsHolder{}
	holder.current.Store(settings)
	return holder
}

func (h *RuntimeSettingsHolder) Get() RuntimeSettings {
	return h.current.Load().(RuntimeSettings)
}

func (h *RuntimeSettingsHolder) Set(settings RuntimeSettings) {
	h.current.Store(settings)
}

func readRuntimeSettings(v *viper.Viper) (RuntimeSettings, error) {
	settings := RuntimeSettings{
		Enabled: v.GetBool("ingestion.enabled"),
		Delay:   durationOrMillis(v.GetString("ingestion.delay"), 0),
	}
	if err := validateRuntimeSettings(settings); err != nil {
		return RuntimeSettings{}, err
	}
	return settings, nil
}

func validateRuntimeSettings(s RuntimeSettings) error {
	if s.Delay <= 0 {
		return errors.New("ingestion.delay must be positive")
	}
	return nil
}
