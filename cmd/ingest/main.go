package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cankoe/obs-schedule-ingest/internal/api"
	"github.com/cankoe/obs-schedule-ingest/internal/helpers"
	"github.com/cankoe/obs-schedule-ingest/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal %s, waiting for in-flight runs before exiting...", sig)
		cancel()
	}()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	components, err := helpers.InitializeCommonComponents(ctx, "ingest", configPath, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize components")
	}

	tasks, err := components.BuildTasks()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build tasks")
	}

	sched := scheduler.New()
	for _, t := range tasks {
		if err := sched.Register(t); err != nil {
			log.Fatal().Err(err).Str("task", t.Name).Msg("Failed to register task")
		}
		log.Info().Str("task", t.Name).Str("trigger", t.Trigger.String()).Msg("Task registered")
	}

	var server *http.Server
	cfg := components.Config
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		opts := api.Options{APIKey: cfg.API.Key, Metrics: components.MetricsHandler}
		if components.History != nil {
			opts.History = components.History
		}
		server = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.NewRouter(components.Reader, sched.Tasks, opts),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.API.Addr).Msg("Status API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Status API stopped")
			}
		}()
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	sched.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down status API")
		}
	}
	components.CloseAll(shutdownCtx)
	log.Info().Msg("Ingest service exited gracefully")
}
