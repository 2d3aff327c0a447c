package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Session SessionConfig `mapstructure:"session"`
	Ticker  TickerConfig  `mapstructure:"ticker"`
	Events  EventsConfig  `mapstructure:"events"`
	Desktop DesktopConfig `mapstructure:"desktop"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

// ServerConfig defines listener ports and addresses
type ServerConfig struct {
	AdminPort   int    `mapstructure:"admin_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Type  string      `mapstructure:"type"` // "bolt", "redis" or "sqlite"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitorConfig defines the poll loop and its watchdog
type MonitorConfig struct {
	PollInterval      string `mapstructure:"poll_interval"`
	RecentWindow      string `mapstructure:"recent_window"`   // narrow foreground lookup window
	FallbackWindow    string `mapstructure:"fallback_window"` // wide lookup window on a miss
	WatchdogInterval  string `mapstructure:"watchdog_interval"`
	HeartbeatTimeout  string `mapstructure:"heartbeat_timeout"`
	UsageSyncInterval string `mapstructure:"usage_sync_interval"`
}

// SessionConfig defines session engine settings
type SessionConfig struct {
	SnapshotTTL       string `mapstructure:"snapshot_ttl"`
	SnapshotCacheSize int    `mapstructure:"snapshot_cache_size"`
	DailyResetTime    string `mapstructure:"daily_reset_time"`
}

// TickerConfig defines the visual countdown
type TickerConfig struct {
	Interval    string `mapstructure:"interval"`
	ProbeWindow string `mapstructure:"probe_window"`
}

// EventsConfig defines where foreground transition events are read from
type EventsConfig struct {
	Source    string `mapstructure:"source"` // "memory" or "redis"
	Retention string `mapstructure:"retention"`
	RedisKey  string `mapstructure:"redis_key"`
}

// DesktopConfig defines D-Bus integration
type DesktopConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Notifications bool   `mapstructure:"notifications"`
	LogindSession string `mapstructure:"logind_session"`
}

// PolicyConfig defines which apps are exempt from enforcement
type PolicyConfig struct {
	PolicyDir       string   `mapstructure:"policy_dir"`
	ExemptApps      []string `mapstructure:"exempt_apps"`
	LauncherPattern string   `mapstructure:"launcher_pattern"`
	SelfAppID       string   `mapstructure:"self_app_id"`
}

// AdminConfig defines the command API
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("APPWARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.admin_port", 8470)
	v.SetDefault("server.metrics_port", 9470)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/appwarden/appwarden.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Monitor defaults
	v.SetDefault("monitor.poll_interval", "2s")
	v.SetDefault("monitor.recent_window", "2s")
	v.SetDefault("monitor.fallback_window", "2h")
	v.SetDefault("monitor.watchdog_interval", "1m")
	v.SetDefault("monitor.heartbeat_timeout", "30s")
	v.SetDefault("monitor.usage_sync_interval", "1m")

	// Session defaults
	v.SetDefault("session.snapshot_ttl", "15m")
	v.SetDefault("session.snapshot_cache_size", 256)
	v.SetDefault("session.daily_reset_time", "00:00")

	// Ticker defaults
	v.SetDefault("ticker.interval", "1s")
	v.SetDefault("ticker.probe_window", "5s")

	// Event source defaults
	v.SetDefault("events.source", "memory")
	v.SetDefault("events.retention", "48h")
	v.SetDefault("events.redis_key", "appwarden:events")

	// Desktop defaults
	v.SetDefault("desktop.enabled", false)
	v.SetDefault("desktop.notifications", true)
	v.SetDefault("desktop.logind_session", "auto")

	// Policy defaults
	v.SetDefault("policy.policy_dir", "")
	v.SetDefault("policy.exempt_apps", []string{})
	v.SetDefault("policy.launcher_pattern", "launcher")
	v.SetDefault("policy.self_app_id", "appwarden")

	// Admin defaults
	v.SetDefault("admin.enabled", true)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.AdminPort <= 0 || cfg.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", cfg.Server.AdminPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt", "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		if err := storage.EnsureParentDir(cfg.Storage.Path); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be bolt, redis or sqlite)", cfg.Storage.Type)
	}

	switch cfg.Events.Source {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported event source: %s (must be memory or redis)", cfg.Events.Source)
	}

	if _, err := time.Parse("15:04", cfg.Session.DailyResetTime); err != nil {
		return fmt.Errorf("invalid daily_reset_time %q: %w", cfg.Session.DailyResetTime, err)
	}

	for name, value := range map[string]string{
		"monitor.poll_interval":     cfg.Monitor.PollInterval,
		"monitor.watchdog_interval": cfg.Monitor.WatchdogInterval,
		"ticker.interval":           cfg.Ticker.Interval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
