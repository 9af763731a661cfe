// Package main is the entry point for the presensi service.
// It evaluates the location trust of staff attendance submissions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/api"
	"github.com/dokterku/presensi/internal/common/config"
	"github.com/dokterku/presensi/internal/common/database"
	"github.com/dokterku/presensi/internal/common/events"
	"github.com/dokterku/presensi/internal/common/health"
	"github.com/dokterku/presensi/internal/common/logger"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/common/resilience"
	"github.com/dokterku/presensi/internal/common/shutdown"
	"github.com/dokterku/presensi/internal/common/tlsutil"
	"github.com/dokterku/presensi/internal/common/tracing"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/review"
	"github.com/dokterku/presensi/internal/risk"
	"github.com/dokterku/presensi/internal/search"
	"github.com/dokterku/presensi/internal/store"
	"github.com/dokterku/presensi/internal/zone"
	"github.com/dokterku/presensi/pkg/journal"
)

const serviceName = "presensi-service"

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load(serviceName)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log := logger.WithService(logger.NewWithLevel(cfg.Environment, cfg.LogLevel), serviceName)
	defer func() { _ = log.Sync() }()

	log.Info("Starting presensi service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg.LogSecurityWarnings(log)
	if err := risk.PolicyFromConfig(cfg.Risk).Validate(); err != nil {
		log.Fatal("Invalid risk policy", zap.Error(err))
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	// Initialize tracing
	shutdownTracer, err := tracing.Init(ctx, tracing.ConfigFrom(cfg), log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	} else {
		shutdownMgr.RegisterHook("tracer", shutdownTracer)
	}

	// Backing services
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	shutdownMgr.RegisterHook("postgres", func(context.Context) error { return db.Close() })

	redis, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	shutdownMgr.RegisterHook("redis", func(context.Context) error { return redis.Close() })

	healthService := health.NewHealthService(log, Version)
	healthService.RegisterCheck(health.NewPostgresChecker(db))
	healthService.RegisterCheck(health.NewRedisChecker(redis))

	// Schema, in foreign key order
	zoneStore := zone.NewPostgresStore(db, log)
	verdictStore := store.NewVerdictStore(db, log)
	reviewStore := review.NewPostgresStore(db, log)
	if err := zoneStore.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize zone schema", zap.Error(err))
	}
	if err := verdictStore.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize verdict schema", zap.Error(err))
	}
	if err := reviewStore.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize review schema", zap.Error(err))
	}

	var zones presensi.ZoneStore = zoneStore
	if cfg.Attendance.ZoneCacheTTL > 0 {
		zones = zone.NewCachedStore(zoneStore, redis.Client, cfg.Attendance.ZoneCacheTTL, log)
	}

	// Event fan-out to the search index and the journal
	bus := events.NewMemoryBus()
	bus.SetErrorHandler(func(e events.Event, err error) {
		log.Warn("Event handler failed",
			zap.String("event_id", e.ID),
			zap.String("event_type", e.Type),
			zap.Error(err))
	})

	var searcher api.VerdictSearcher
	if cfg.ElasticsearchURL != "" {
		esBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "elasticsearch",
			Logger: log,
		})
		breakers := resilience.NewRegistry()
		breakers.Register(esBreaker)
		healthService.RegisterOptionalCheck(breakers)

		es, err := database.NewElasticsearch(database.ElasticsearchConfig{
			URL:       cfg.ElasticsearchURL,
			Transport: resilience.NewTransport(http.DefaultTransport, esBreaker),
		})
		if err != nil {
			log.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
		}
		indexer := search.NewVerdictIndexer(es, search.DefaultIndex, log)
		if err := indexer.EnsureIndex(ctx); err != nil {
			log.Fatal("Failed to create verdict index", zap.Error(err))
		}
		bus.Subscribe(events.EventVerdictRecorded, indexer.HandleEvent)
		healthService.RegisterOptionalCheck(health.NewElasticsearchChecker(es))
		searcher = indexer
	}

	if cfg.JournalPath != "" {
		fileStore, err := journal.NewFileStore(cfg.JournalPath)
		if err != nil {
			log.Fatal("Failed to open verdict journal", zap.Error(err))
		}
		j, err := journal.Open(fileStore)
		if err != nil {
			log.Fatal("Failed to load verdict journal", zap.Error(err))
		}
		if n, err := j.Verify(); err != nil {
			log.Error("Verdict journal failed verification", zap.Int("valid_entries", n), zap.Error(err))
		} else {
			log.Info("Verdict journal verified", zap.Int("entries", n), zap.String("path", cfg.JournalPath))
		}
		bus.Subscribe("*", store.NewJournalSink(j, log).HandleEvent)
	}
	shutdownMgr.RegisterHook("event-bus", func(context.Context) error { return bus.Close() })

	// Attendance gate and review workflow
	clock := presensi.ClockFunc(time.Now)
	gate, err := presensi.NewGate(presensi.ConfigFrom(cfg), zones, verdictStore, verdictStore, log,
		presensi.WithClock(clock),
		presensi.WithLock(store.NewSubmissionLock(redis.Client, log)),
		presensi.WithEventBus(bus),
	)
	if err != nil {
		log.Fatal("Failed to create attendance gate", zap.Error(err))
	}
	reviews := review.NewService(reviewStore, verdictStore, clock, bus, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(gate, verdictStore, reviews, searcher, log)
	router := api.NewRouter(api.RouterConfig{
		ServiceName: serviceName,
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.GetCORSOrigins(),
		Production:  cfg.IsProduction(),
		RateLimit: middleware.RateLimitConfig{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
		},
		Redis: redis.Client,
	}, handler, healthService, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	listen, err := tlsutil.Listener(cfg.TLS, log)
	if err != nil {
		log.Fatal("Invalid TLS configuration", zap.Error(err))
	}
	if err := shutdownMgr.ServeWith("http", server, listen); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}

	shutdownMgr.Wait(ctx)
	log.Info("Server exited")
}
