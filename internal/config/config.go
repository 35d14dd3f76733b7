// Package config provides configuration loading and validation for the
// rankfuse server. It uses koanf to merge an optional YAML file with
// environment variable overrides, environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// SourceConfig describes one upstream ranking provider. Weight scales
// the source's contributions during fusion; zero means 1.0. A
// retry_max of zero disables retries. Circuit fields left at zero fall
// back to the policy defaults.
type SourceConfig struct {
	Name      string  `koanf:"name"`
	URL       string  `koanf:"url"`
	Weight    float64 `koanf:"weight"`
	TimeoutMS int     `koanf:"timeout_ms"`
	RetryMax  int     `koanf:"retry_max"`
	RateRPS   float64 `koanf:"rate_rps"`
	RateBurst int     `koanf:"rate_burst"`

	CircuitWindowMS   int     `koanf:"circuit_window_ms"`
	CircuitThreshold  float64 `koanf:"circuit_threshold"`
	CircuitMinSamples int     `koanf:"circuit_min_samples"`
	CircuitCooldownMS int     `koanf:"circuit_cooldown_ms"`
	CircuitProbes     int     `koanf:"circuit_probes"`
}

// Timeout returns the per-call timeout for the source.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// CircuitWindow returns the rolling window for the source breaker.
func (s SourceConfig) CircuitWindow() time.Duration {
	return time.Duration(s.CircuitWindowMS) * time.Millisecond
}

// CircuitCooldown returns the open-state cooldown for the source breaker.
func (s SourceConfig) CircuitCooldown() time.Duration {
	return time.Duration(s.CircuitCooldownMS) * time.Millisecond
}

// Config holds all configuration values for the rankfuse server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Fusion settings
	Persistence float64 `koanf:"persistence"`
	TopKInit    int     `koanf:"topk_init"`
	TopKMax     int     `koanf:"topk_max"`
	ScoreFloor  float64 `koanf:"score_floor"`
	DefaultK    int     `koanf:"default_k"`

	// Request limits
	BudgetMS        int `koanf:"budget_ms"`
	MaxRankings     int `koanf:"max_rankings"`
	MaxRankingItems int `koanf:"max_ranking_items"`

	// Response cache; zero disables caching.
	CacheTTLMS int `koanf:"cache_ttl_ms"`

	// Upstream ranking providers, file-only.
	Sources []SourceConfig `koanf:"sources"`
}

// CacheTTL returns the response cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// Configuration validation errors.
var (
	ErrInvalidPort        = errors.New("port must be between 1 and 65535")
	ErrInvalidPersistence = errors.New("persistence must satisfy 0.0 <= p < 1.0")
	ErrInvalidTopK        = errors.New("topk_init and topk_max must be positive with topk_init <= topk_max")
	ErrInvalidDefaultK    = errors.New("default_k must be positive and not exceed topk_max")
	ErrInvalidBudget      = errors.New("budget_ms must be positive")
	ErrNegativeCacheTTL   = errors.New("cache_ttl_ms must not be negative")
	ErrSourceName         = errors.New("source name is required")
	ErrSourceURL          = errors.New("source url is required")
	ErrDuplicateSource    = errors.New("duplicate source name")
)

// Default values.
const (
	DefaultPort            = 7070
	DefaultEnv             = "development"
	DefaultPersistence     = 0.9
	DefaultTopKInit        = 32
	DefaultTopKMax         = 64
	DefaultK               = 10
	DefaultBudgetMS        = 600
	DefaultCacheTTLMS      = 30000
	DefaultMaxRankings     = 16
	DefaultMaxRankingItems = 1024
	DefaultSourceTimeoutMS = 800
)

// Load reads configuration from an optional YAML file and environment
// variables, environment taking precedence. It returns the loaded
// config and a slice of validation errors (empty if valid). A config
// file path that cannot be loaded is returned as a single error.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefaultMulti([]string{"RANKFUSE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	// Zero is a valid persistence (first places only), so absence has
	// to be distinguished from an explicit zero before defaulting.
	persistence := DefaultPersistence
	if k.Exists("persistence") {
		persistence = k.Float64("persistence")
	}
	if val := os.Getenv("RANKFUSE_PERSISTENCE"); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("RANKFUSE_PERSISTENCE must be a valid float: %w", err))
		} else {
			persistence = parsed
		}
	}

	// Same for the cache TTL, where zero disables caching.
	cacheTTLMS := DefaultCacheTTLMS
	if k.Exists("cache_ttl_ms") {
		cacheTTLMS = k.Int("cache_ttl_ms")
	}
	if val := os.Getenv("RANKFUSE_CACHE_TTL_MS"); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("RANKFUSE_CACHE_TTL_MS must be a valid integer: %w", err))
		} else {
			cacheTTLMS = parsed
		}
	}

	topKInit, err := getEnvIntOrDefault("RANKFUSE_TOPK_INIT", k.Int("topk_init"), DefaultTopKInit)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	topKMax, err := getEnvIntOrDefault("RANKFUSE_TOPK_MAX", k.Int("topk_max"), DefaultTopKMax)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	defaultK, err := getEnvIntOrDefault("RANKFUSE_DEFAULT_K", k.Int("default_k"), DefaultK)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	budgetMS, err := getEnvIntOrDefault("RANKFUSE_BUDGET_MS", k.Int("budget_ms"), DefaultBudgetMS)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxRankings, err := getEnvIntOrDefault("RANKFUSE_MAX_RANKINGS", k.Int("max_rankings"), DefaultMaxRankings)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxRankingItems, err := getEnvIntOrDefault("RANKFUSE_MAX_RANKING_ITEMS", k.Int("max_ranking_items"), DefaultMaxRankingItems)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	scoreFloor, err := getEnvFloatOrDefault("RANKFUSE_SCORE_FLOOR", k.Float64("score_floor"), 0)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:            port,
		Env:             getEnvOrDefaultMulti([]string{"RANKFUSE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		Persistence:     persistence,
		TopKInit:        topKInit,
		TopKMax:         topKMax,
		ScoreFloor:      scoreFloor,
		DefaultK:        defaultK,
		BudgetMS:        budgetMS,
		MaxRankings:     maxRankings,
		MaxRankingItems: maxRankingItems,
		CacheTTLMS:      cacheTTLMS,
	}

	if err := k.Unmarshal("sources", &cfg.Sources); err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("failed to parse sources: %w", err))
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].TimeoutMS <= 0 {
			cfg.Sources[i].TimeoutMS = DefaultSourceTimeoutMS
		}
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrDefaultMulti tries multiple environment variable keys in
// order. Returns the first non-empty value found, otherwise the koanf
// value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in
// order. Returns the first valid integer value found, otherwise the
// koanf value, or default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if
// set, otherwise the koanf value, or default. Returns an error if the
// environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks configuration consistency. Returns a slice of
// validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if math.IsNaN(c.Persistence) || c.Persistence < 0 || c.Persistence >= 1 {
		errs = append(errs, ErrInvalidPersistence)
	}
	if c.TopKInit <= 0 || c.TopKMax <= 0 || c.TopKInit > c.TopKMax {
		errs = append(errs, ErrInvalidTopK)
	}
	if c.DefaultK <= 0 || (c.TopKMax > 0 && c.DefaultK > c.TopKMax) {
		errs = append(errs, ErrInvalidDefaultK)
	}
	if c.BudgetMS <= 0 {
		errs = append(errs, ErrInvalidBudget)
	}
	if c.CacheTTLMS < 0 {
		errs = append(errs, ErrNegativeCacheTTL)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			errs = append(errs, fmt.Errorf("source %d: %w", i, ErrSourceName))
			continue
		}
		if seen[src.Name] {
			errs = append(errs, fmt.Errorf("source %q: %w", src.Name, ErrDuplicateSource))
		}
		seen[src.Name] = true
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("source %q: %w", src.Name, ErrSourceURL))
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
func (c *Config) LogSummary() map[string]string {
	names := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		names = append(names, src.Name)
	}

	return map[string]string{
		"port":              fmt.Sprintf("%d", c.Port),
		"env":               c.Env,
		"persistence":       fmt.Sprintf("%g", c.Persistence),
		"topk_init":         fmt.Sprintf("%d", c.TopKInit),
		"topk_max":          fmt.Sprintf("%d", c.TopKMax),
		"score_floor":       fmt.Sprintf("%g", c.ScoreFloor),
		"default_k":         fmt.Sprintf("%d", c.DefaultK),
		"budget_ms":         fmt.Sprintf("%d", c.BudgetMS),
		"cache_ttl_ms":      fmt.Sprintf("%d", c.CacheTTLMS),
		"max_rankings":      fmt.Sprintf("%d", c.MaxRankings),
		"max_ranking_items": fmt.Sprintf("%d", c.MaxRankingItems),
		"sources":           strings.Join(names, ","),
	}
}
