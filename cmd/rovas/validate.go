package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/rovas-connector/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the rovas configuration file for syntax and semantic errors.`,
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

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

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

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := map[string]bool{}
	for _, key := range config.Keys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// API
	_, _ = cyan.Println("\n[api]")
	dumpField("  developer", cfg.API.Developer, defaultCfg.API.Developer, yellow, green)
	dumpField("  base_url", cfg.API.BaseURL, defaultCfg.API.BaseURL, yellow, green)
	dumpField("  timeout", cfg.API.Timeout, defaultCfg.API.Timeout, yellow, green)
	dumpField("  max_retries", cfg.API.MaxRetries, defaultCfg.API.MaxRetries, yellow, green)
	dumpField("  user_agent", cfg.API.UserAgent, defaultCfg.API.UserAgent, yellow, green)

	// Tracking
	_, _ = cyan.Println("\n[tracking]")
	dumpField("  inactivity_tolerance", cfg.Tracking.InactivityTolerance, defaultCfg.Tracking.InactivityTolerance, yellow, green)
	dumpField("  watch_paths", cfg.Tracking.WatchPaths, defaultCfg.Tracking.WatchPaths, yellow, green)
	dumpField("  watch_ignore", cfg.Tracking.WatchIgnore, defaultCfg.Tracking.WatchIgnore, yellow, green)
	dumpField("  unpaid_editor", cfg.Tracking.UnpaidEditor, defaultCfg.Tracking.UnpaidEditor, yellow, green)
	dumpField("  restore_previous", cfg.Tracking.RestorePrevious, defaultCfg.Tracking.RestorePrevious, yellow, green)

	// Report
	_, _ = cyan.Println("\n[report]")
	dumpField("  classification", cfg.Report.Classification, defaultCfg.Report.Classification, yellow, green)
	dumpField("  description", cfg.Report.Description, defaultCfg.Report.Description, yellow, green)
	dumpField("  activity_name", cfg.Report.ActivityName, defaultCfg.Report.ActivityName, yellow, green)
	dumpField("  proof_url", cfg.Report.ProofURL, defaultCfg.Report.ProofURL, yellow, green)
	dumpField("  fee_rate", cfg.Report.FeeRate, defaultCfg.Report.FeeRate, yellow, green)
	dumpField("  connector_project_id", cfg.Report.ConnectorProjectID, defaultCfg.Report.ConnectorProjectID, yellow, green)
	dumpField("  connector_project_id_dev", cfg.Report.ConnectorProjectIDDev, defaultCfg.Report.ConnectorProjectIDDev, yellow, green)
	dumpField("  connector_name", cfg.Report.ConnectorName, defaultCfg.Report.ConnectorName, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	dumpField("  history_limit", cfg.Storage.HistoryLimit, defaultCfg.Storage.HistoryLimit, yellow, green)
	dumpField("  history_retention", cfg.Storage.HistoryRetention, defaultCfg.Storage.HistoryRetention, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  control_port", cfg.Server.ControlPort, defaultCfg.Server.ControlPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  metrics_enabled", cfg.Server.MetricsEnabled, defaultCfg.Server.MetricsEnabled, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
