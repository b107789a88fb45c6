package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"price-divergence/internal/logging"
)

// Config materialises application configuration. It is loaded once and treated as read-only.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StreamConfig describes the two trade streams.
type StreamConfig struct {
	URI              string        `mapstructure:"uri"`
	Feed             string        `mapstructure:"feed"`
	ReferenceSymbol  string        `mapstructure:"reference_symbol"`
	TrackedSymbol    string        `mapstructure:"tracked_symbol"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// DetectionConfig governs the baseline window and divergence threshold.
type DetectionConfig struct {
	// Interval is the lookback offset from now to the baseline anchor.
	Interval time.Duration `mapstructure:"interval"`
	// Window is the width of the averaged range ending at the anchor.
	Window       time.Duration `mapstructure:"window"`
	ThresholdPct float64       `mapstructure:"threshold_pct"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// RedisConfig covers the redis storage backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SupervisorConfig tunes retry behaviour between tracking attempts.
type SupervisorConfig struct {
	StorageCooldown time.Duration `mapstructure:"storage_cooldown"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	JitterFactor    float64       `mapstructure:"jitter_factor"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// legacyEnv maps config keys to the bare environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"database.dsn":            "DSN",
	"stream.uri":              "URI",
	"stream.ping_timeout":     "PING_TIMEOUT",
	"detection.interval":      "INTERVAL",
	"detection.window":        "WINDOW",
	"detection.threshold_pct": "THRESHOLDING",
	"logging.level":           "LOGGING_LEVEL",
}

const envPrefix = "DIVERGENCEWATCH"

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv binds each key to its prefixed name first and the bare legacy name second.
func bindLegacyEnv(v *viper.Viper) error {
	replacer := strings.NewReplacer(".", "_")
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "divergencewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.time_format", "")
	v.SetDefault("logging.caller", false)
	v.SetDefault("logging.pretty", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.compress", false)

	v.SetDefault("stream.uri", "wss://stream.binancefuture.com/ws/")
	v.SetDefault("stream.feed", "aggTrade")
	v.SetDefault("stream.reference_symbol", "btcusdt")
	v.SetDefault("stream.tracked_symbol", "ethusdt")
	v.SetDefault("stream.ping_interval", "20s")
	v.SetDefault("stream.ping_timeout", "20s")
	v.SetDefault("stream.handshake_timeout", "10s")

	v.SetDefault("detection.interval", "60s")
	v.SetDefault("detection.window", "10s")
	v.SetDefault("detection.threshold_pct", 1.0)

	v.SetDefault("storage.driver", DriverPostgres)

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.advisory_lock_key", int64(0))

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "prices")

	v.SetDefault("supervisor.storage_cooldown", "10s")
	v.SetDefault("supervisor.backoff_initial", "1s")
	v.SetDefault("supervisor.backoff_max", "30s")
	v.SetDefault("supervisor.jitter_factor", 0.1)

	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.path", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		)
	}
}

// secondsToDurationHookFunc reads bare numbers (e.g. PING_TIMEOUT=20) as whole seconds.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		var seconds float64
		switch value := data.(type) {
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return data, nil
			}
			seconds = parsed
		case int:
			seconds = float64(value)
		case int64:
			seconds = float64(value)
		case float64:
			seconds = value
		default:
			return data, nil
		}

		if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return nil, fmt.Errorf("invalid duration %v", data)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Stream.URI) == "" {
		return fmt.Errorf("stream.uri is required")
	}
	if c.Stream.Feed == "" {
		return fmt.Errorf("stream.feed is required")
	}
	ref := strings.ToLower(strings.TrimSpace(c.Stream.ReferenceSymbol))
	tracked := strings.ToLower(strings.TrimSpace(c.Stream.TrackedSymbol))
	if ref == "" || tracked == "" {
		return fmt.Errorf("stream.reference_symbol and stream.tracked_symbol are required")
	}
	if ref == tracked {
		return fmt.Errorf("stream.reference_symbol and stream.tracked_symbol must differ")
	}
	if c.Stream.PingTimeout <= 0 {
		return fmt.Errorf("stream.ping_timeout must be greater than zero")
	}
	if c.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be greater than zero")
	}
	if c.Detection.Interval < 0 {
		return fmt.Errorf("detection.interval cannot be negative")
	}
	if c.Detection.Window <= 0 {
		return fmt.Errorf("detection.window must be greater than zero")
	}
	if c.Detection.ThresholdPct < 0 || math.IsNaN(c.Detection.ThresholdPct) {
		return fmt.Errorf("detection.threshold_pct cannot be negative")
	}
	if c.Supervisor.StorageCooldown < 0 || c.Supervisor.BackoffInitial < 0 || c.Supervisor.BackoffMax < 0 {
		return fmt.Errorf("supervisor durations cannot be negative")
	}

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}
