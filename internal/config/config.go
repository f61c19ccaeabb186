package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/onomancer/backend/internal/names"
)

const (
	envPrefix              = "ONOMANCER"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = DriverSQLite
	defaultDatabasePath    = "onomancer.db"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
	defaultSessionTTL      = 12 * time.Hour
	defaultCacheTTL        = 5 * time.Minute
	defaultNonceCapacity   = 4096
	defaultAllowedOrigin   = "*"
	minimumSigningSecretSz = 16
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var defaultFallbackNames = []string{
	"Wanderer Unknown",
	"Nameless Stranger",
	"Quiet Traveler",
}

// DatabaseConfig selects and locates the backing store.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// ModeratorConfig controls moderator session exchange.
type ModeratorConfig struct {
	Key           string
	SigningSecret string
	SessionTTL    time.Duration
}

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress         string
	Database            DatabaseConfig
	LogLevel            string
	LogFormat           string
	Moderator           ModeratorConfig
	RedisURL            string
	LeaderboardCacheTTL time.Duration
	NonceCapacity       int
	AllowedOrigins      []string
	FallbackNames       []string
	Engine              names.EngineConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("moderator.session_ttl", defaultSessionTTL)
	configViper.SetDefault("redis.cache_ttl", defaultCacheTTL)
	configViper.SetDefault("replay.capacity", defaultNonceCapacity)
	configViper.SetDefault("names.fallback", defaultFallbackNames)

	engine := names.DefaultEngineConfig()
	configViper.SetDefault("engine.leaderboard_threshold", engine.LeaderboardThreshold)
	configViper.SetDefault("engine.annotate_threshold", engine.AnnotateThreshold)
	configViper.SetDefault("engine.min_flag_reason_length", engine.MinFlagReasonLength)
	configViper.SetDefault("engine.recency_bucket", engine.RecencyBucket)
	configViper.SetDefault("engine.fragments.min_volume", engine.Fragments.MinVolume)
	configViper.SetDefault("engine.fragments.max_down_ratio", engine.Fragments.MaxDownRatio)
	configViper.SetDefault("engine.fragments.downvote_floor", engine.Fragments.DownvoteFloor)
	configViper.SetDefault("engine.fragments.net_floor", engine.Fragments.NetFloor)
	configViper.SetDefault("engine.generator.fresh_probability", engine.Generator.FreshProbability)
	configViper.SetDefault("engine.generator.bottom_probability", engine.Generator.BottomProbability)
	configViper.SetDefault("engine.generator.bottom_pool_size", engine.Generator.BottomPoolSize)
	configViper.SetDefault("engine.generator.median_bias_probability", engine.Generator.MedianBiasProbability)
	configViper.SetDefault("engine.generator.recency_probability", engine.Generator.RecencyProbability)
	configViper.SetDefault("engine.generator.recency_window", engine.Generator.RecencyWindow)
	configViper.SetDefault("engine.generator.fragment_score_floor", engine.Generator.FragmentScoreFloor)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		LogLevel:  configViper.GetString("log.level"),
		LogFormat: configViper.GetString("log.format"),
		Moderator: ModeratorConfig{
			Key:           configViper.GetString("moderator.key"),
			SigningSecret: configViper.GetString("moderator.signing_secret"),
			SessionTTL:    configViper.GetDuration("moderator.session_ttl"),
		},
		RedisURL:            configViper.GetString("redis.url"),
		LeaderboardCacheTTL: configViper.GetDuration("redis.cache_ttl"),
		NonceCapacity:       configViper.GetInt("replay.capacity"),
		AllowedOrigins:      stringList(configViper, "http.allowed_origins"),
		FallbackNames:       stringList(configViper, "names.fallback"),
		Engine:              loadEngine(configViper),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStorage parses only the settings the offline CLI commands need.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		LogLevel:  configViper.GetString("log.level"),
		LogFormat: configViper.GetString("log.format"),
		Engine:    loadEngine(configViper),
	}
	if err := cfg.Database.validate(); err != nil {
		return AppConfig{}, err
	}
	if err := validateEngine(cfg.Engine); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func loadEngine(configViper *viper.Viper) names.EngineConfig {
	return names.EngineConfig{
		LeaderboardThreshold: configViper.GetInt64("engine.leaderboard_threshold"),
		AnnotateThreshold:    configViper.GetInt64("engine.annotate_threshold"),
		MinFlagReasonLength:  configViper.GetInt("engine.min_flag_reason_length"),
		RecencyBucket:        configViper.GetDuration("engine.recency_bucket"),
		Fragments: names.FragmentPolicy{
			MinVolume:     configViper.GetInt64("engine.fragments.min_volume"),
			MaxDownRatio:  configViper.GetFloat64("engine.fragments.max_down_ratio"),
			DownvoteFloor: configViper.GetInt64("engine.fragments.downvote_floor"),
			NetFloor:      configViper.GetInt64("engine.fragments.net_floor"),
		},
		Generator: names.GeneratorConfig{
			FreshProbability:      configViper.GetFloat64("engine.generator.fresh_probability"),
			BottomProbability:     configViper.GetFloat64("engine.generator.bottom_probability"),
			BottomPoolSize:        configViper.GetInt("engine.generator.bottom_pool_size"),
			MedianBiasProbability: configViper.GetFloat64("engine.generator.median_bias_probability"),
			RecencyProbability:    configViper.GetFloat64("engine.generator.recency_probability"),
			RecencyWindow:         configViper.GetDuration("engine.generator.recency_window"),
			FragmentScoreFloor:    configViper.GetInt64("engine.generator.fragment_score_floor"),
		},
	}
}

// stringList accepts both list values and comma separated env strings. Entries keep their
// inner spaces, which matters for fallback names.
func stringList(configViper *viper.Viper, key string) []string {
	var values []string
	switch raw := configViper.Get(key).(type) {
	case string:
		values = strings.Split(raw, ",")
	case []string:
		values = raw
	case []interface{}:
		for _, item := range raw {
			values = append(values, fmt.Sprint(item))
		}
	}
	result := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if err := c.Database.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Moderator.Key) == "" {
		return fmt.Errorf("moderator.key is required")
	}
	if len(strings.TrimSpace(c.Moderator.SigningSecret)) < minimumSigningSecretSz {
		return fmt.Errorf("moderator.signing_secret must be at least %d characters", minimumSigningSecretSz)
	}
	if c.Moderator.SessionTTL <= 0 {
		return fmt.Errorf("moderator.session_ttl must be positive")
	}
	if c.NonceCapacity <= 0 {
		return fmt.Errorf("replay.capacity must be positive")
	}
	for _, origin := range c.AllowedOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("http.allowed_origins entry %q must be * or an http(s) origin", origin)
		}
	}
	return validateEngine(c.Engine)
}

func (d DatabaseConfig) validate() error {
	switch d.Driver {
	case DriverSQLite:
		if strings.TrimSpace(d.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(d.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", d.Driver)
	}
	return nil
}

func validateEngine(engine names.EngineConfig) error {
	probabilities := map[string]float64{
		"engine.generator.fresh_probability":       engine.Generator.FreshProbability,
		"engine.generator.bottom_probability":      engine.Generator.BottomProbability,
		"engine.generator.median_bias_probability": engine.Generator.MedianBiasProbability,
		"engine.generator.recency_probability":     engine.Generator.RecencyProbability,
	}
	for key, value := range probabilities {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	}
	if engine.RecencyBucket <= 0 {
		return fmt.Errorf("engine.recency_bucket must be positive")
	}
	if engine.Generator.RecencyWindow < engine.RecencyBucket {
		return fmt.Errorf("engine.generator.recency_window must cover at least one recency bucket")
	}
	if engine.Generator.BottomPoolSize <= 0 {
		return fmt.Errorf("engine.generator.bottom_pool_size must be positive")
	}
	if engine.MinFlagReasonLength < 0 {
		return fmt.Errorf("engine.min_flag_reason_length must not be negative")
	}
	return nil
}
