package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/scheduler"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type TaskConfig struct {
	Name       string `mapstructure:"name"`
	Source     string `mapstructure:"source"`
	RunAtStart bool   `mapstructure:"run_at_start"`

	// Exactly one trigger.
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Cron            string `mapstructure:"cron"`
	RRule           string `mapstructure:"rrule"`
	Timezone        string `mapstructure:"timezone"`

	TAPURL            string  `mapstructure:"tap_url"`
	Table             string  `mapstructure:"table"`
	Collection        string  `mapstructure:"collection"`
	Catalog           string  `mapstructure:"catalog"`
	TelescopeID       int     `mapstructure:"telescope_id"`
	InstrumentID      int     `mapstructure:"instrument_id"`
	LookBackHours     int     `mapstructure:"look_back_hours"`
	LookAheadHours    int     `mapstructure:"look_ahead_hours"`
	Status            string  `mapstructure:"status"`
	Fidelity          string  `mapstructure:"fidelity"`
	MaxRows           int     `mapstructure:"max_rows"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

func (t TaskConfig) TriggerSpec() scheduler.TriggerSpec {
	return scheduler.TriggerSpec{
		Interval: time.Duration(t.IntervalSeconds) * time.Second,
		Cron:     t.Cron,
		RRule:    t.RRule,
		Timezone: t.Timezone,
	}
}

type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	// Server is the aggregation server schedules are published to.
	Server struct {
		URL       string `mapstructure:"url"`
		TokenPath string `mapstructure:"token_path"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		Token     string `mapstructure:"token"`
	} `mapstructure:"server"`

	HTTP struct {
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
		UserAgent      string `mapstructure:"user_agent"`
	} `mapstructure:"http"`

	TAP struct {
		WaitSeconds int `mapstructure:"wait_seconds"`
	} `mapstructure:"tap"`

	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
		Key     string `mapstructure:"key"`
	} `mapstructure:"api"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	Redis struct {
		Enabled    bool   `mapstructure:"enabled"`
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		Password   string `mapstructure:"password"`
		DB         int    `mapstructure:"db"`
		TTLSeconds int    `mapstructure:"ttl_seconds"`
	} `mapstructure:"redis"`

	Mongo struct {
		Enabled  bool   `mapstructure:"enabled"`
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`

	CatalogFile string `mapstructure:"catalog_file"`

	Tasks []TaskConfig `mapstructure:"tasks"`
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func (c *Config) TAPWait() time.Duration {
	return time.Duration(c.TAP.WaitSeconds) * time.Second
}

// LoadConfig loads the configuration from file, environment variables, and command-line arguments.
// Order of precedence: defaults < config file < env vars < cmd flags.
func LoadConfig(configPath string, args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.token_path", "/auth/token")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "obs-schedule-ingest/1.0")
	v.SetDefault("tap.wait_seconds", 10)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.ttl_seconds", 7*24*3600)
	v.SetDefault("mongo.enabled", false)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "obs_ingest")

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("config_path", configPath).Msg("Failed to read config file, relying on defaults, env, and flags")
	}

	bindEnvOrPanic(v, "log.level", "LOG_LEVEL")
	bindEnvOrPanic(v, "log.format", "LOG_FORMAT")
	bindEnvOrPanic(v, "server.url", "SERVER_URL")
	bindEnvOrPanic(v, "server.token_path", "SERVER_TOKEN_PATH")
	bindEnvOrPanic(v, "server.username", "SERVER_USERNAME")
	bindEnvOrPanic(v, "server.password", "SERVER_PASSWORD")
	bindEnvOrPanic(v, "server.token", "SERVER_TOKEN")
	bindEnvOrPanic(v, "http.timeout_seconds", "HTTP_TIMEOUT_SECONDS")
	bindEnvOrPanic(v, "http.user_agent", "HTTP_USER_AGENT")
	bindEnvOrPanic(v, "tap.wait_seconds", "TAP_WAIT_SECONDS")
	bindEnvOrPanic(v, "api.enabled", "API_ENABLED")
	bindEnvOrPanic(v, "api.addr", "API_ADDR")
	bindEnvOrPanic(v, "api.key", "API_KEY")
	bindEnvOrPanic(v, "metrics.enabled", "METRICS_ENABLED")
	bindEnvOrPanic(v, "redis.enabled", "REDIS_ENABLED")
	bindEnvOrPanic(v, "redis.host", "REDIS_HOST")
	bindEnvOrPanic(v, "redis.port", "REDIS_PORT")
	bindEnvOrPanic(v, "redis.password", "REDIS_PASSWORD")
	bindEnvOrPanic(v, "redis.db", "REDIS_DB")
	bindEnvOrPanic(v, "redis.ttl_seconds", "REDIS_TTL_SECONDS")
	bindEnvOrPanic(v, "mongo.enabled", "MONGO_ENABLED")
	bindEnvOrPanic(v, "mongo.uri", "MONGO_URI")
	bindEnvOrPanic(v, "mongo.database", "MONGO_DATABASE")
	bindEnvOrPanic(v, "catalog_file", "CATALOG_FILE")

	fs := flag.NewFlagSet("obs-schedule-ingest", flag.ContinueOnError)
	logLevel := fs.String("log-level", "", "Override log level")
	serverURL := fs.String("server-url", "", "Override aggregation server URL")
	apiAddr := fs.String("api-addr", "", "Override status API listen address")
	tapWait := fs.Int("tap-wait-seconds", 0, "Override TAP job wait in seconds")
	catalogFile := fs.String("catalog-file", "", "Override mapping catalog file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *logLevel != "" {
		v.Set("log.level", *logLevel)
	}
	if *serverURL != "" {
		v.Set("server.url", *serverURL)
	}
	if *apiAddr != "" {
		v.Set("api.addr", *apiAddr)
	}
	if *tapWait > 0 {
		v.Set("tap.wait_seconds", *tapWait)
	}
	if *catalogFile != "" {
		v.Set("catalog_file", *catalogFile)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindEnvOrPanic(v *viper.Viper, key, env string) {
	if err := v.BindEnv(key, env); err != nil {
		log.Fatal().Err(err).Msgf("Failed to bind environment variable %s to key %s", env, key)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.URL == "" {
		return errors.New("server url is required")
	}
	if cfg.Server.Token == "" && (cfg.Server.Username == "" || cfg.Server.Password == "") {
		return errors.New("either server token or server username and password must be set")
	}

	if cfg.TAP.WaitSeconds <= 0 {
		return fmt.Errorf("tap wait_seconds must be > 0, got %d", cfg.TAP.WaitSeconds)
	}
	if cfg.HTTP.TimeoutSeconds <= cfg.TAP.WaitSeconds {
		return fmt.Errorf("http timeout_seconds (%d) must exceed tap wait_seconds (%d)",
			cfg.HTTP.TimeoutSeconds, cfg.TAP.WaitSeconds)
	}

	if cfg.Redis.Enabled && cfg.Redis.Host == "" {
		log.Warn().Msg("REDIS_HOST not provided, using default")
		cfg.Redis.Host = "localhost"
	}
	if cfg.Mongo.Enabled && cfg.Mongo.Database == "" {
		return errors.New("mongo database is required when mongo is enabled")
	}

	if len(cfg.Tasks) == 0 {
		log.Warn().Msg("No tasks configured")
	}
	seen := make(map[string]struct{}, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d: name is required", i)
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("task %s: duplicate name", t.Name)
		}
		seen[t.Name] = struct{}{}
		if _, err := scheduler.ParseTrigger(t.TriggerSpec()); err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		if t.Source != "obscore" {
			return fmt.Errorf("task %s: unknown source %q", t.Name, t.Source)
		}
		if t.TAPURL == "" {
			return fmt.Errorf("task %s: tap_url is required", t.Name)
		}
		if t.Catalog != "" && cfg.CatalogFile == "" {
			return fmt.Errorf("task %s: catalog %q set but no catalog_file configured", t.Name, t.Catalog)
		}
	}

	return nil
}
