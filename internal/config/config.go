package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	LogLevel  string
	LogFormat string
	HTTPAddr  string

	OTLPEndpoint string
	OtelEnabled  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RemoteStore RemoteStoreConfig
	Ingestion   IngestionConfig
	Redis       RedisConfig

	// RuntimeConfigFile points at the optional hot-reloadable YAML file.
	RuntimeConfigFile string
}

type RemoteStoreConfig struct {
	Type        string
	FTPHost     string
	FTPPort     int
	FTPUsername string
	FTPPassword string
	FTPTimeout  time.Duration
	LocalRoot   string
	LocalWatch  bool
}

type IngestionConfig struct {
	Enabled           bool
	Delay             time.Duration
	SourceDir         string
	ProcessedDir      string
	ErrorDir          string
	FileTimeout       time.Duration
	DuplicatePolicy   string
	EnsureDirectories bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockKey  string
	LockTTL  time.Duration
}

const (
	RemoteStoreFTP   = "ftp"
	RemoteStoreLocal = "local"

	DuplicatePolicyFail      = "fail"
	DuplicatePolicyProcessed = "processed"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewRuntimeSettingsHolder),
)

// Load loads configuration from environment variables, a .env file and an
// optional config file named by NFSYNC_CONFIG.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if path := strings.TrimSpace(os.Getenv("NFSYNC_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("[config] ignoring %s: %v", path, err)
		}
	}

	sourceDir := strings.TrimRight(strings.TrimSpace(v.GetString("ftp_xmls_dir")), "/")
	if sourceDir == "" {
		sourceDir = "/nfs/NFe"
	}

	cfg := Config{
		AppName:      v.GetString("app_service"),
		AppVersion:   v.GetString("app_version"),
		Environment:  v.GetString("environment"),
		LogLevel:     strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogFormat:    strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		HTTPAddr:     v.GetString("http_addr"),
		OTLPEndpoint: v.GetString("otlp_endpoint"),
		OtelEnabled:  v.GetBool("otel_enabled"),

		DBType:            strings.ToLower(v.GetString("database_type")),
		DBHost:            v.GetString("database_host"),
		DBPort:            v.GetString("database_port"),
		DBName:            v.GetString("database_name"),
		DBUser:            v.GetString("database_user"),
		DBPassword:        v.GetString("database_password"),
		DBSSLMode:         v.GetString("database_sslmode"),
		DBPath:            v.GetString("database_path"),
		DBMaxIdleConn:     v.GetInt("database_max_idle_conn"),
		DBMaxOpenConn:     v.GetInt("database_max_open_conn"),
		DBConnMaxLifetime: v.GetInt("database_conn_max_lifetime"),
		DBConnMaxIdleTime: v.GetInt("database_conn_max_idle_time"),

		RemoteStore: RemoteStoreConfig{
			Type:        strings.ToLower(strings.TrimSpace(v.GetString("remote_store_type"))),
			FTPHost:     strings.TrimSpace(v.GetString("ftp_host")),
			FTPPort:     v.GetInt("ftp_port"),
			FTPUsername: v.GetString("ftp_username"),
			FTPPassword: v.GetString("ftp_password"),
			FTPTimeout:  durationOrMillis(v.GetString("ftp_timeout"), 30*time.Second),
			LocalRoot:   strings.TrimSpace(v.GetString("local_store_root")),
			LocalWatch:  v.GetBool("local_store_watch"),
		},
		Ingestion: IngestionConfig{
			Enabled:           v.GetBool("file_processing_enabled"),
			Delay:             durationOrMillis(v.GetString("file_processing_delay"), time.Minute),
			SourceDir:         sourceDir,
			ProcessedDir:      strings.TrimRight(strings.TrimSpace(v.GetString("file_processed_dir")), "/"),
			ErrorDir:          strings.TrimRight(strings.TrimSpace(v.GetString("file_error_dir")), "/"),
			FileTimeout:       durationOrMillis(v.GetString("file_timeout"), 2*time.Minute),
			DuplicatePolicy:   normalizeDuplicatePolicy(v.GetString("duplicate_policy")),
			EnsureDirectories: v.GetBool("ensure_directories"),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(v.GetString("redis_addr")),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			LockKey:  v.GetString("run_lock_key"),
			LockTTL:  durationOrMillis(v.GetString("run_lock_ttl"), 30*time.Minute),
		},
		RuntimeConfigFile: strings.TrimSpace(v.GetString("runtime_config_file")),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_service", "nfsync")
	v.SetDefault("app_version", "0.1.0")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("otlp_endpoint", "localhost:4317")
	v.SetDefault("otel_enabled", false)

	v.SetDefault("database_type", "postgres")
	v.SetDefault("database_host", "localhost")
	v.SetDefault("database_port", "5432")
	v.SetDefault("database_name", "postgres")
	v.SetDefault("database_user", "postgres")
	v.SetDefault("database_password", "")
	v.SetDefault("database_sslmode", "disable")
	v.SetDefault("database_path", "nfsync.db")
	v.SetDefault("database_max_idle_conn", 2)
	v.SetDefault("database_max_open_conn", 5)
	v.SetDefault("database_conn_max_lifetime", 1800)
	v.SetDefault("database_conn_max_idle_time", 300)

	v.SetDefault("remote_store_type", RemoteStoreFTP)
	v.SetDefault("ftp_port", 21)
	v.SetDefault("ftp_timeout", "30s")
	v.SetDefault("local_store_root", ".")
	v.SetDefault("local_store_watch", true)

	v.SetDefault("file_processing_enabled", true)
	v.SetDefault("file_processing_delay", "60000")
	v.SetDefault("ftp_xmls_dir", "/nfs/NFe")
	v.SetDefault("file_timeout", "2m")
	v.SetDefault("duplicate_policy", DuplicatePolicyFail)
	v.SetDefault("ensure_directories", true)

	v.SetDefault("redis_db", 0)
	v.SetDefault("run_lock_key", "nfsync:ingestion:run")
	v.SetDefault("run_lock_ttl", "30m")
}

// durationOrMillis accepts Go durations ("90s") and bare millisecond counts ("60000").
func durationOrMillis(raw string, def time.Duration) time.Duration {
	value := strings.TrimSpace(raw)
	if value == "" {
		return def
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms <= 0 {
			return def
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func normalizeDuplicatePolicy(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case DuplicatePolicyProcessed:
		return DuplicatePolicyProcessed
	default:
		return DuplicatePolicyFail
	}
}
