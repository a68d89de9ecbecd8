package helpers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/auth"
	"github.com/cankoe/obs-schedule-ingest/internal/catalog"
	"github.com/cankoe/obs-schedule-ingest/internal/config"
	"github.com/cankoe/obs-schedule-ingest/internal/database"
	"github.com/cankoe/obs-schedule-ingest/internal/metrics"
	"github.com/cankoe/obs-schedule-ingest/internal/publish"
	"github.com/cankoe/obs-schedule-ingest/internal/status"
	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
)

// AppComponents holds the long-lived handles shared by every task: one HTTP
// connection pool, one token source and one publish client.
type AppComponents struct {
	Config     *config.Config
	HTTPClient *http.Client
	Tokens     *auth.TokenSource
	Publisher  *publish.Client
	Catalogs   catalog.Set

	Metrics        metrics.Sink
	MetricsHandler http.Handler

	Status   *status.MemoryStore
	Reader   status.Chain
	Recorder status.Multi
	History  *status.MongoStore

	MongoClient *mongo.Client
	RedisClient *redis.Client
}

func InitializeCommonComponents(ctx context.Context, serviceName, configPath string, args []string) (*AppComponents, error) {
	cfg, err := config.LoadConfig(configPath, args)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ConfigureLogging(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msgf("Starting %s service with log level %s...", serviceName, zerolog.GlobalLevel().String())

	c := &AppComponents{Config: cfg}
	c.HTTPClient = transport.NewHTTPClient(cfg.HTTPTimeout(), cfg.HTTP.UserAgent)
	c.Tokens = NewTokenSource(cfg, c.HTTPClient)
	c.Publisher = publish.NewClient(cfg.Server.URL, c.HTTPClient, c.Tokens)

	if cfg.CatalogFile != "" {
		if c.Catalogs, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		log.Info().Str("path", cfg.CatalogFile).Int("catalogs", len(c.Catalogs)).Msg("Mapping catalogs loaded")
	}

	c.Metrics = metrics.NewNoopSink()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		c.Metrics = metrics.NewPrometheusSink(reg)
		c.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	c.Status = status.NewMemoryStore()
	c.Recorder = status.Multi{c.Status}
	c.Reader = status.Chain{c.Status}

	if cfg.Redis.Enabled {
		c.RedisClient, err = database.NewRedisClient(ctx, database.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			c.CloseAll(ctx)
			return nil, err
		}
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		snapshots := status.NewRedisStore(c.RedisClient, ttl)
		c.Recorder = append(c.Recorder, snapshots)
		c.Reader = append(c.Reader, snapshots)
	}

	if cfg.Mongo.Enabled {
		c.MongoClient, err = database.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			c.CloseAll(ctx)
			return nil, err
		}
		c.History = status.NewMongoStore(c.MongoClient.Database(cfg.Mongo.Database))
		if err := c.History.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to ensure run record indexes")
		}
		c.Recorder = append(c.Recorder, c.History)
	}

	return c, nil
}

// NewTokenSource uses the static token when one is configured and logs in
// otherwise.
func NewTokenSource(cfg *config.Config, httpClient *http.Client) *auth.TokenSource {
	if cfg.Server.Token != "" {
		return auth.NewStaticTokenSource(cfg.Server.Token)
	}
	endpoint := strings.TrimRight(cfg.Server.URL, "/") + "/" + strings.TrimLeft(cfg.Server.TokenPath, "/")
	return auth.NewTokenSource(endpoint, auth.Credentials{
		Username: cfg.Server.Username,
		Password: cfg.Server.Password,
	}, httpClient)
}

// ConfigureLogging sets the global level and, for format "console", human
// readable output.
func ConfigureLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Msgf("Invalid log level '%s', defaulting to info", level)
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func (c *AppComponents) CloseAll(ctx context.Context) {
	if c.MongoClient != nil {
		if err := c.MongoClient.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to disconnect MongoDB client")
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	c.HTTPClient.CloseIdleConnections()
}
