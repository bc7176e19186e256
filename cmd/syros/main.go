// cmd/syros/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fawad-mazhar/syros/internal/api/handlers"
	"github.com/fawad-mazhar/syros/internal/api/routes"
	"github.com/fawad-mazhar/syros/internal/config"
	"github.com/fawad-mazhar/syros/internal/engine"
	"github.com/fawad-mazhar/syros/internal/llm"
	"github.com/fawad-mazhar/syros/internal/models"
	"github.com/fawad-mazhar/syros/internal/queue"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Boundary adapter for the configured provider
	client, err := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		CallTimeout: time.Duration(cfg.LLM.CallTimeoutSeconds) * time.Second,
		SystemHint:  cfg.LLM.SystemHint,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build provider client")
	}

	// Optional status push
	var publisher engine.StatusPublisher
	if cfg.NATS.URL != "" {
		p, err := queue.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect status publisher")
		}
		defer p.Close()
		publisher = p
		log.Info().Str("url", cfg.NATS.URL).Str("subject", cfg.NATS.Subject).Msg("status push enabled")
	}

	eng, err := engine.New(engine.Config{
		WALPath:          cfg.Engine.WALPath,
		CachePath:        cfg.Cache.Path,
		CacheBackend:     cfg.Cache.Backend,
		SnapshotPath:     cfg.Snapshot.Path,
		SnapshotEvery:    cfg.Snapshot.EveryResults,
		SnapshotInterval: time.Duration(cfg.Snapshot.IntervalSeconds) * time.Second,
	}, client.Translate, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize engine")
	}
	defer eng.Close()

	defaults := models.Options{
		MinWorkers:   cfg.Engine.MinWorkers,
		MaxWorkers:   cfg.Engine.MaxWorkers,
		StartWorkers: cfg.Engine.StartWorkers,
		RateHint:     cfg.Limiter.RPM,
		RetryCeiling: cfg.Engine.RetryCeiling,
	}

	runHandler := handlers.NewRunHandler(eng, defaults)
	router := routes.SetupRouter(runHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("starting syros")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// Stop accepting new submissions, then drain running work. In-flight
	// provider calls finish so WAL and cache writes stay consistent.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := runHandler.StopAll(60 * time.Second); err != nil {
		log.Error().Err(err).Msg("run drain incomplete")
	}

	log.Info().Msg("shutdown complete")
}
