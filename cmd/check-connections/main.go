package main

import (
	"context"
	"os"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/config"
	"github.com/cankoe/obs-schedule-ingest/internal/database"
	"github.com/cankoe/obs-schedule-ingest/internal/helpers"
	"github.com/cankoe/obs-schedule-ingest/internal/transport"

	"github.com/rs/zerolog/log"
)

func main() {
	if !check() {
		os.Exit(1)
	}
}

func check() bool {
	cfg, err := config.LoadConfig("config/config.yaml", os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	helpers.ConfigureLogging(cfg.Log.Level, "console")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	failed := false

	if cfg.Mongo.Enabled {
		mongoClient, err := database.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			failed = true
		} else {
			log.Info().Msg("MongoDB connected successfully!")
			defer mongoClient.Disconnect(ctx)
		}
	}

	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedisClient(ctx, database.RedisOptions{
			Host: cfg.Redis.Host, Port: cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		})
		if err != nil {
			failed = true
		} else {
			log.Info().Msg("Redis connected successfully!")
			defer redisClient.Close()
		}
	}

	tokens := helpers.NewTokenSource(cfg, transport.NewHTTPClient(cfg.HTTPTimeout(), cfg.HTTP.UserAgent))
	if _, err := tokens.Token(ctx); err != nil {
		log.Error().Err(err).Str("server", cfg.Server.URL).Msg("Failed to obtain aggregation server token")
		failed = true
	} else {
		log.Info().Str("server", cfg.Server.URL).Msg("Aggregation server token obtained")
	}

	return !failed
}
