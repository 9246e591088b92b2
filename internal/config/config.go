package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const envPrefix = "ROVAS"

// Tolerance bounds for tracking.inactivity_tolerance, in seconds.
const (
	MinToleranceSeconds = 1
	MaxToleranceSeconds = 240
)

// Config holds the complete application configuration
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Report   ReportConfig   `mapstructure:"report"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig defines how the Rovas server is reached
type APIConfig struct {
	Developer  bool   `mapstructure:"developer"`
	BaseURL    string `mapstructure:"base_url"` // overrides the production or developer URL
	Timeout    string `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
	UserAgent  string `mapstructure:"user_agent"`
}

// TrackingConfig defines time tracking behaviour
type TrackingConfig struct {
	InactivityTolerance int      `mapstructure:"inactivity_tolerance"` // seconds
	WatchPaths          []string `mapstructure:"watch_paths"`
	WatchIgnore         []string `mapstructure:"watch_ignore"`
	UnpaidEditor        bool     `mapstructure:"unpaid_editor"`
	RestorePrevious     string   `mapstructure:"restore_previous"` // ask, add or discard
}

// ReportConfig defines the contents of work reports and usage records
type ReportConfig struct {
	Classification        int     `mapstructure:"classification"`
	Description           string  `mapstructure:"description"`
	ActivityName          string  `mapstructure:"activity_name"`
	ProofURL              string  `mapstructure:"proof_url"`
	FeeRate               float64 `mapstructure:"fee_rate"`
	ConnectorProjectID    int64   `mapstructure:"connector_project_id"`
	ConnectorProjectIDDev int64   `mapstructure:"connector_project_id_dev"`
	ConnectorName         string  `mapstructure:"connector_name"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type             string      `mapstructure:"type"`
	Path             string      `mapstructure:"path"`
	HistoryLimit     int         `mapstructure:"history_limit"`
	HistoryRetention string      `mapstructure:"history_retention"` // 0 keeps everything
	Redis            RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection used when storage.type is redis
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

// ServerConfig defines the local control and metrics listeners
type ServerConfig struct {
	BindAddress    string `mapstructure:"bind_address"`
	ControlPort    int    `mapstructure:"control_port"`
	MetricsPort    int    `mapstructure:"metrics_port"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Tolerance returns the inactivity tolerance as a duration.
func (t TrackingConfig) Tolerance() time.Duration {
	return time.Duration(t.InactivityTolerance) * time.Second
}

// Retention returns how long submission history is kept, or 0 to keep it all.
func (s StorageConfig) Retention() time.Duration {
	d, err := time.ParseDuration(s.HistoryRetention)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ConnectorProject returns the project charged with the usage fee.
func (r ReportConfig) ConnectorProject(developer bool) int64 {
	if developer {
		return r.ConnectorProjectIDDev
	}
	return r.ConnectorProjectID
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return load(configPath, nil)
}

// LoadUser is Load for a session run by an ordinary user: storage defaults to dir
// instead of the system state directory.
func LoadUser(configPath, dir string) (*Config, error) {
	return load(configPath, func(v *viper.Viper) {
		v.SetDefault("storage.path", filepath.Join(dir, "rovas.bolt"))
	})
}

// UserDir returns the per-user directory for the configuration file and local storage.
func UserDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find user config directory: %w", err)
	}
	return filepath.Join(base, "rovas"), nil
}

func load(configPath string, override func(*viper.Viper)) (*Config, error) {
	v := newViper(configPath)
	if override != nil {
		override(v)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	return decode(v)
}

// Watch reloads configPath whenever it changes and passes every valid configuration
// to fn. Invalid edits are logged and ignored.
func Watch(configPath string, logger zerolog.Logger, fn func(*Config)) error {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	logger = logger.With().Str("component", "config").Logger()
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}
		logger.Info().Str("file", e.Name).Msg("Configuration reloaded")
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

// EnvCredentials are credentials supplied through ROVAS_API_KEY, ROVAS_API_TOKEN and
// ROVAS_PROJECT_ID. They only seed an empty credential store.
type EnvCredentials struct {
	APIKey    string
	APIToken  string
	ProjectID int64
}

// CredentialsFromEnv returns the credentials in the environment, if all three are set.
func CredentialsFromEnv() (EnvCredentials, bool) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	creds := EnvCredentials{
		APIKey:    strings.TrimSpace(v.GetString("api_key")),
		APIToken:  strings.TrimSpace(v.GetString("api_token")),
		ProjectID: v.GetInt64("project_id"),
	}
	if creds.APIKey == "" || creds.APIToken == "" || creds.ProjectID == 0 {
		return EnvCredentials{}, false
	}
	return creds, true
}

// Defaults returns the configuration used when neither a file nor the environment
// sets anything.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Keys returns every configuration key that Load understands.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.developer", false)
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.max_retries", 5)
	v.SetDefault("api.user_agent", "rovas-connector")

	// Tracking defaults
	v.SetDefault("tracking.inactivity_tolerance", 30)
	v.SetDefault("tracking.watch_paths", []string{})
	v.SetDefault("tracking.watch_ignore", []string{".git", "*.swp", "*~"})
	v.SetDefault("tracking.unpaid_editor", true)
	v.SetDefault("tracking.restore_previous", "ask")

	// Report defaults
	v.SetDefault("report.classification", 1645)
	v.SetDefault("report.description", "Map edits reported with the Rovas connector")
	v.SetDefault("report.activity_name", "Editing OpenStreetMap")
	v.SetDefault("report.proof_url", "https://overpass-api.de/achavi/?changeset=%d")
	v.SetDefault("report.fee_rate", 0.03)
	v.SetDefault("report.connector_project_id", 35259)
	v.SetDefault("report.connector_project_id_dev", 24682)
	v.SetDefault("report.connector_name", "Rovas connector")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/rovas/rovas.bolt")
	v.SetDefault("storage.history_limit", 100)
	v.SetDefault("storage.history_retention", "0s")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.control_port", 8765)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.metrics_enabled", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if _, err := time.ParseDuration(cfg.API.Timeout); err != nil {
		return fmt.Errorf("invalid api timeout %q: %w", cfg.API.Timeout, err)
	}
	if cfg.API.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d", cfg.API.MaxRetries)
	}

	// Out-of-range tolerances are clamped rather than rejected
	if cfg.Tracking.InactivityTolerance < MinToleranceSeconds {
		cfg.Tracking.InactivityTolerance = MinToleranceSeconds
	}
	if cfg.Tracking.InactivityTolerance > MaxToleranceSeconds {
		cfg.Tracking.InactivityTolerance = MaxToleranceSeconds
	}

	switch cfg.Tracking.RestorePrevious {
	case "ask", "add", "discard":
	default:
		return fmt.Errorf("invalid restore_previous %q: must be ask, add or discard", cfg.Tracking.RestorePrevious)
	}

	if cfg.Report.ProofURL != "" && strings.Count(cfg.Report.ProofURL, "%d") != 1 {
		return fmt.Errorf("proof_url must contain exactly one %%d: %q", cfg.Report.ProofURL)
	}
	if cfg.Report.FeeRate < 0 || cfg.Report.FeeRate > 1 {
		return fmt.Errorf("invalid fee rate: %v", cfg.Report.FeeRate)
	}
	if cfg.Report.ConnectorProjectID <= 0 || cfg.Report.ConnectorProjectIDDev <= 0 {
		return fmt.Errorf("connector project ids are required")
	}

	if cfg.Server.ControlPort < 0 || cfg.Server.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", cfg.Server.ControlPort)
	}
	if cfg.Server.MetricsEnabled && (cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", cfg.Logging.Format)
	}

	if d, err := time.ParseDuration(cfg.Storage.HistoryRetention); err != nil || d < 0 {
		return fmt.Errorf("invalid history retention %q", cfg.Storage.HistoryRetention)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt":
		// Validate storage path
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}

		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	return nil
}
