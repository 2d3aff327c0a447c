package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/appwarden/internal/config"
	"github.com/goodtune/appwarden/internal/policy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the appwarden configuration file for syntax and semantic errors and compile the exemption policies it points at.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Compile policies so broken rego is caught before the daemon starts
	policyEngine, err := policy.NewEngine(policy.Config{
		PolicyDir:       cfg.Policy.PolicyDir,
		ExemptApps:      cfg.Policy.ExemptApps,
		LauncherPattern: cfg.Policy.LauncherPattern,
		SelfAppID:       cfg.Policy.SelfAppID,
	}, quietLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Policy compilation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)
	_, _ = fmt.Fprintf(os.Stdout, "✅ Policies compiled: %s\n", strings.Join(policyEngine.Modules(), ", "))

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unknownKeys(v.AllKeys()), nil
}

// unknownKeys returns the keys not present in the configuration schema.
func unknownKeys(keys []string) []string {
	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range keys {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := map[string]bool{
		// Server
		"server.admin_port":   true,
		"server.metrics_port": true,
		"server.bind_address": true,

		// Storage
		"storage.path":                 true,
		"storage.type":                 true,
		"storage.redis.host":           true,
		"storage.redis.port":           true,
		"storage.redis.password":       true,
		"storage.redis.db":             true,
		"storage.redis.pool_size":      true,
		"storage.redis.min_idle_conns": true,
		"storage.redis.dial_timeout":   true,
		"storage.redis.read_timeout":   true,
		"storage.redis.write_timeout":  true,

		// Logging
		"logging.level":  true,
		"logging.format": true,

		// Monitor
		"monitor.poll_interval":       true,
		"monitor.recent_window":       true,
		"monitor.fallback_window":     true,
		"monitor.watchdog_interval":   true,
		"monitor.heartbeat_timeout":   true,
		"monitor.usage_sync_interval": true,

		// Session
		"session.snapshot_ttl":        true,
		"session.snapshot_cache_size": true,
		"session.daily_reset_time":    true,

		// Ticker
		"ticker.interval":     true,
		"ticker.probe_window": true,

		// Events
		"events.source":    true,
		"events.retention": true,
		"events.redis_key": true,

		// Desktop
		"desktop.enabled":        true,
		"desktop.notifications":  true,
		"desktop.logind_session": true,

		// Policy
		"policy.policy_dir":       true,
		"policy.exempt_apps":      true,
		"policy.launcher_pattern": true,
		"policy.self_app_id":      true,

		// Admin
		"admin.enabled": true,
	}

	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, defaultCfg *config.Config, unknownKeys []string) {
	// Setup colors (only if terminal supports it)
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(w, name, value, defaultValue, yellow, green)
	}

	// Server
	_, _ = cyan.Fprintln(w, "\n[server]")
	field("  admin_port", cfg.Server.AdminPort, defaultCfg.Server.AdminPort)
	field("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort)
	field("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress)

	// Storage
	_, _ = cyan.Fprintln(w, "\n[storage]")
	field("  type", cfg.Storage.Type, defaultCfg.Storage.Type)
	field("  path", cfg.Storage.Path, defaultCfg.Storage.Path)
	_, _ = cyan.Fprintln(w, "  [storage.redis]")
	field("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host)
	field("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port)
	field("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password))
	field("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB)
	field("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize)
	field("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns)
	field("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout)

	// Logging
	_, _ = cyan.Fprintln(w, "\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)

	// Monitor
	_, _ = cyan.Fprintln(w, "\n[monitor]")
	field("  poll_interval", cfg.Monitor.PollInterval, defaultCfg.Monitor.PollInterval)
	field("  recent_window", cfg.Monitor.RecentWindow, defaultCfg.Monitor.RecentWindow)
	field("  fallback_window", cfg.Monitor.FallbackWindow, defaultCfg.Monitor.FallbackWindow)
	field("  watchdog_interval", cfg.Monitor.WatchdogInterval, defaultCfg.Monitor.WatchdogInterval)
	field("  heartbeat_timeout", cfg.Monitor.HeartbeatTimeout, defaultCfg.Monitor.HeartbeatTimeout)
	field("  usage_sync_interval", cfg.Monitor.UsageSyncInterval, defaultCfg.Monitor.UsageSyncInterval)

	// Session
	_, _ = cyan.Fprintln(w, "\n[session]")
	field("  snapshot_ttl", cfg.Session.SnapshotTTL, defaultCfg.Session.SnapshotTTL)
	field("  snapshot_cache_size", cfg.Session.SnapshotCacheSize, defaultCfg.Session.SnapshotCacheSize)
	field("  daily_reset_time", cfg.Session.DailyResetTime, defaultCfg.Session.DailyResetTime)

	// Ticker
	_, _ = cyan.Fprintln(w, "\n[ticker]")
	field("  interval", cfg.Ticker.Interval, defaultCfg.Ticker.Interval)
	field("  probe_window", cfg.Ticker.ProbeWindow, defaultCfg.Ticker.ProbeWindow)

	// Events
	_, _ = cyan.Fprintln(w, "\n[events]")
	field("  source", cfg.Events.Source, defaultCfg.Events.Source)
	field("  retention", cfg.Events.Retention, defaultCfg.Events.Retention)
	field("  redis_key", cfg.Events.RedisKey, defaultCfg.Events.RedisKey)

	// Desktop
	_, _ = cyan.Fprintln(w, "\n[desktop]")
	field("  enabled", cfg.Desktop.Enabled, defaultCfg.Desktop.Enabled)
	field("  notifications", cfg.Desktop.Notifications, defaultCfg.Desktop.Notifications)
	field("  logind_session", cfg.Desktop.LogindSession, defaultCfg.Desktop.LogindSession)

	// Policy
	_, _ = cyan.Fprintln(w, "\n[policy]")
	field("  policy_dir", cfg.Policy.PolicyDir, defaultCfg.Policy.PolicyDir)
	field("  exempt_apps", cfg.Policy.ExemptApps, defaultCfg.Policy.ExemptApps)
	field("  launcher_pattern", cfg.Policy.LauncherPattern, defaultCfg.Policy.LauncherPattern)
	field("  self_app_id", cfg.Policy.SelfAppID, defaultCfg.Policy.SelfAppID)

	// Admin
	_, _ = cyan.Fprintln(w, "\n[admin]")
	field("  enabled", cfg.Admin.Enabled, defaultCfg.Admin.Enabled)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Fprintln(w, "\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(w, "  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	// Deep equal comparison
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
