package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // display timezones must resolve in minimal containers

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"btcQuant/internal/adapters/logger"
	"btcQuant/internal/ports"
)

// DefaultSettingsPath is where settings are read from unless SETTINGS_PATH is set.
const DefaultSettingsPath = "conf/settings.yml"

// DefaultLogDir is where report writes run directories unless settings say otherwise.
const DefaultLogDir = "logs"

// exchangeTimeframes lists the interval codes each exchange serves.
var exchangeTimeframes = map[string][]string{
	"kraken":  {"1m", "5m", "15m", "30m", "1h", "4h", "1d", "1w"},
	"binance": {"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w"},
}

// SupportedTimeframes returns the interval codes settings accept for exchange.
func SupportedTimeframes(exchange string) []string {
	return append([]string(nil), exchangeTimeframes[strings.ToLower(exchange)]...)
}

func knownTimeframe(tf string) bool {
	for _, list := range exchangeTimeframes {
		for _, code := range list {
			if code == tf {
				return true
			}
		}
	}
	return false
}

func offeredBy(exchange, tf string) bool {
	for _, code := range exchangeTimeframes[strings.ToLower(exchange)] {
		if code == tf {
			return true
		}
	}
	return false
}

// Settings is the contents of conf/settings.yml. It is loaded once at start and
// never mutated afterwards.
type Settings struct {
	Exchange               string  `yaml:"exchange"`
	Symbol                 string  `yaml:"symbol"`
	Timeframe              string  `yaml:"timeframe"`
	Lookback               int     `yaml:"lookback"`
	RefreshIntervalSeconds int     `yaml:"refresh_interval_seconds"`
	FailureThreshold       int     `yaml:"failure_threshold"`
	RequestTimeoutSeconds  int     `yaml:"request_timeout_seconds"`
	RateLimitPerSecond     float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst         int     `yaml:"rate_limit_burst"`
	Timezone               string  `yaml:"timezone"`
	Logging                Logging `yaml:"logging"`
}

// Logging configures where run reports are written.
type Logging struct {
	Dir string `yaml:"dir"`
}

// DefaultSettings returns the settings used for keys missing from the file.
func DefaultSettings() Settings {
	return Settings{
		Exchange:               "kraken",
		Symbol:                 "BTC/USD",
		Timeframe:              "1h",
		Lookback:               500,
		RefreshIntervalSeconds: 20,
		FailureThreshold:       5,
		RequestTimeoutSeconds:  15,
		RateLimitPerSecond:     1,
		RateLimitBurst:         1,
		Timezone:               "America/Denver",
		Logging:                Logging{Dir: DefaultLogDir},
	}
}

// RefreshInterval returns the polling interval.
func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-request deadline for exchange calls.
func (s Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// Location returns the display timezone, falling back to UTC.
func (s Settings) Location() *time.Location {
	if loc, err := time.LoadLocation(s.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// Validate checks every field and reports all problems at once.
func (s Settings) Validate() error {
	var errs []string

	exchangeOK := false
	switch strings.ToLower(s.Exchange) {
	case "kraken", "binance":
		exchangeOK = true
	case "":
		errs = append(errs, "exchange must be set")
	default:
		errs = append(errs, fmt.Sprintf("exchange %q is not supported (kraken, binance)", s.Exchange))
	}
	if strings.TrimSpace(s.Symbol) == "" {
		errs = append(errs, "symbol must be set")
	} else if !strings.Contains(s.Symbol, "/") {
		errs = append(errs, fmt.Sprintf("symbol %q must be in BASE/QUOTE form", s.Symbol))
	}
	if s.Timeframe == "" {
		errs = append(errs, "timeframe must be set")
	} else if !knownTimeframe(s.Timeframe) {
		errs = append(errs, fmt.Sprintf("timeframe %q is not a recognised interval code", s.Timeframe))
	} else if exchangeOK && !offeredBy(s.Exchange, s.Timeframe) {
		errs = append(errs, fmt.Sprintf("timeframe %q is not offered by %s (%s)",
			s.Timeframe, strings.ToLower(s.Exchange), strings.Join(SupportedTimeframes(s.Exchange), ", ")))
	}
	if s.Lookback < 1 {
		errs = append(errs, "lookback must be at least 1")
	}
	if s.RefreshIntervalSeconds <= 0 {
		errs = append(errs, "refresh_interval_seconds must be positive")
	}
	if s.FailureThreshold <= 0 {
		errs = append(errs, "failure_threshold must be positive")
	}
	if s.RequestTimeoutSeconds <= 0 {
		errs = append(errs, "request_timeout_seconds must be positive")
	}
	if s.RateLimitPerSecond <= 0 {
		errs = append(errs, "rate_limit_per_second must be positive")
	}
	if s.RateLimitBurst <= 0 {
		errs = append(errs, "rate_limit_burst must be positive")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("timezone %q is invalid", s.Timezone))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ports.ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return nil
}

// LoadSettings reads a YAML settings file over DefaultSettings and validates it.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: read settings file %s: %w", ports.ErrInvalidSettings, path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: parse settings file %s: %w", ports.ErrInvalidSettings, path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SaveSettings writes s as YAML, creating parent directories.
func SaveSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// Config holds all process configuration: the settings file plus environment.
type Config struct {
	Settings     Settings
	SettingsPath string

	// Logging
	LogLevel logger.LogLevel

	// Storage
	DBPath string

	// HTTP API
	HTTPAddr string

	// Redis snapshot cache (disabled when RedisAddr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Kafka snapshot publisher (disabled when KafkaBrokers is empty)
	KafkaBrokers []string
	KafkaTopic   string

	// Keep-alive pinger (disabled when KeepAliveURL is empty)
	KeepAliveURL      string
	KeepAliveInterval time.Duration

	// Binance API (only used when exchange is binance; public endpoints work without keys)
	BinanceAPIKey    string
	BinanceSecretKey string
	BinanceTestnet   bool
}

// LoadConfig loads configuration from environment variables (.env file) and the settings file.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.SettingsPath = getEnv("SETTINGS_PATH", DefaultSettingsPath)
	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// No file: run on defaults.
		settings = DefaultSettings()
	}
	cfg.Settings = settings

	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	cfg.DBPath = getEnv("DB_PATH", "./data/btcquant.db")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8501")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvAsIntRequired("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err.Error())
	} else if cfg.RedisDB < 0 {
		errs = append(errs, "REDIS_DB cannot be negative")
	}
	redisTTL, err := getEnvAsIntRequired("REDIS_TTL_SECONDS", 3600)
	if err != nil {
		errs = append(errs, err.Error())
	} else if redisTTL <= 0 {
		errs = append(errs, "REDIS_TTL_SECONDS must be positive")
	}
	cfg.RedisTTL = time.Duration(redisTTL) * time.Second

	cfg.KafkaBrokers = splitList(getEnv("KAFKA_BROKERS", ""))
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", "btcquant.snapshots")

	cfg.KeepAliveURL = getEnv("KEEPALIVE_URL", "")
	keepAliveSeconds, err := getEnvAsIntRequired("KEEPALIVE_INTERVAL_SECONDS", 600)
	if err != nil {
		errs = append(errs, err.Error())
	} else if keepAliveSeconds <= 0 {
		errs = append(errs, "KEEPALIVE_INTERVAL_SECONDS must be positive")
	}
	cfg.KeepAliveInterval = time.Duration(keepAliveSeconds) * time.Second

	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.BinanceTestnet, err = getEnvAsBool("BINANCE_TESTNET", false)
	if err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
