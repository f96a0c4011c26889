package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/careview-api/internal/aggregate"
	"github.com/jwalitptl/careview-api/internal/config"
	"github.com/jwalitptl/careview-api/internal/handler/health"
	"github.com/jwalitptl/careview-api/internal/handler/snapshot"
	"github.com/jwalitptl/careview-api/internal/middleware"
	"github.com/jwalitptl/careview-api/internal/repository/postgres"
	"github.com/jwalitptl/careview-api/internal/router"
	"github.com/jwalitptl/careview-api/internal/session"
	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/internal/store/memstore"
	"github.com/jwalitptl/careview-api/internal/store/redistore"
	"github.com/jwalitptl/careview-api/pkg/logger"
	"github.com/jwalitptl/careview-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/careview-api/pkg/messaging/redis"
	"github.com/jwalitptl/careview-api/pkg/metrics"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Pretty:     cfg.Log.Pretty,
	})

	docStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open document store")
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetricsWith("careview", "aggregate", registry)

	planner := aggregate.NewPlanner(docStore, log, m)
	joiner := aggregate.NewJoiner(docStore, log, m,
		aggregate.CollectionPatients,
		aggregate.CollectionDoctors,
		aggregate.CollectionNurses,
	)
	assembler := aggregate.NewAssembler(planner, joiner, log, m)

	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(redisbroker.Config{URL: cfg.Redis.URL}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis broker")
		}
	}

	parser := session.NewTokenParser(cfg.JWT.Secret)
	authMiddleware := middleware.NewAuthMiddleware(parser)

	healthHandler := health.NewHandler(version)
	snapshotHandler := snapshot.NewHandler(assembler, session.ContextProvider{}, broker, log)

	r := router.NewRouter(authMiddleware, healthHandler, snapshotHandler, router.Config{
		RateLimit: rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst: cfg.RateLimit.Burst,
		CORSConfig: middleware.CORSConfig{
			AllowOrigins: cfg.CORS.AllowedOrigins,
			AllowMethods: cfg.CORS.AllowedMethods,
			AllowHeaders: cfg.CORS.AllowedHeaders,
		},
		Logger:   log,
		Registry: registry,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return memstore.New(), nil
	case "redis":
		return redistore.New(redistore.Config{URL: cfg.Redis.URL})
	case "postgres":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgres.NewDocumentStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
