package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/careview-api/internal/aggregate"
	"github.com/jwalitptl/careview-api/internal/config"
	"github.com/jwalitptl/careview-api/internal/repository/postgres"
	"github.com/jwalitptl/careview-api/internal/store"
	"github.com/jwalitptl/careview-api/internal/store/redistore"
	"github.com/jwalitptl/careview-api/pkg/logger"
	"github.com/jwalitptl/careview-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/careview-api/pkg/messaging/redis"
	"github.com/jwalitptl/careview-api/pkg/metrics"
)

// WorkerConfig comes from the environment only. The worker runs as a
// sidecar deployment and never reads the API's config file.
type WorkerConfig struct {
	RedisURL     string        `envconfig:"REDIS_URL" required:"true"`
	StoreBackend string        `envconfig:"STORE_BACKEND" default:"redis"`
	DBHost       string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort       int           `envconfig:"DB_PORT" default:"5432"`
	DBUser       string        `envconfig:"DB_USER" default:"careview"`
	DBPassword   string        `envconfig:"DB_PASSWORD"`
	DBName       string        `envconfig:"DB_NAME" default:"careview"`
	DBSSLMode    string        `envconfig:"DB_SSLMODE" default:"disable"`
	HealthPort   int           `envconfig:"HEALTH_PORT" default:"8081"`
	BuildTimeout time.Duration `envconfig:"BUILD_TIMEOUT" default:"10s"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	var cfg WorkerConfig
	if err := envconfig.Process("careview_worker", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load worker configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:      logger.ParseLevel(cfg.LogLevel),
		TimeFormat: time.RFC3339,
	})

	docStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open document store")
	}

	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{URL: cfg.RedisURL}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetricsWith("careview", "prewarm", registry)

	planner := aggregate.NewPlanner(docStore, log, m)
	joiner := aggregate.NewJoiner(docStore, log, m,
		aggregate.CollectionPatients,
		aggregate.CollectionDoctors,
		aggregate.CollectionNurses,
	)
	assembler := aggregate.NewAssembler(planner, joiner, log, m)

	setupHealthCheck(cfg.HealthPort, registry, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	run(ctx, broker, assembler, cfg.BuildTimeout, log)
}

// run drains refresh events and rebuilds the named user's snapshot so
// the next dashboard load hits a warm join cache.
func run(ctx context.Context, broker messaging.Broker, assembler *aggregate.Assembler, buildTimeout time.Duration, log zerolog.Logger) {
	events, err := broker.Subscribe(ctx, messaging.RefreshChannel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to refresh channel")
	}

	log.Info().Str("channel", messaging.RefreshChannel).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return
		case payload, ok := <-events:
			if !ok {
				log.Warn().Msg("refresh channel closed")
				return
			}
			var event messaging.RefreshEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				log.Error().Err(err).Msg("failed to decode refresh event")
				continue
			}

			buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
			snap, err := assembler.BuildSnapshot(buildCtx, event.Role, event.UserID)
			cancel()
			if err != nil {
				log.Error().Err(err).
					Str("user_id", event.UserID).
					Str("role", string(event.Role)).
					Msg("prewarm build failed")
				continue
			}
			log.Info().
				Str("user_id", event.UserID).
				Str("role", string(event.Role)).
				Bool("partial", snap.Partial).
				Msg("snapshot prewarmed")
		}
	}
}

func openStore(cfg WorkerConfig) (store.Store, error) {
	switch cfg.StoreBackend {
	case "redis":
		return redistore.New(redistore.Config{URL: cfg.RedisURL})
	case "postgres":
		db, err := postgres.NewDB(config.DatabaseConfig{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			Name:     cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			return nil, err
		}
		return postgres.NewDocumentStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func setupHealthCheck(port int, registry *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			log.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
}
