package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/positionledger/posengine/internal/calclog"
	"github.com/positionledger/posengine/internal/configcache"
	"github.com/positionledger/posengine/internal/engine"
	"github.com/positionledger/posengine/internal/httpapi"
	"github.com/positionledger/posengine/internal/ingest"
	"github.com/positionledger/posengine/internal/metrics"
	"github.com/positionledger/posengine/internal/model"
	"github.com/positionledger/posengine/internal/notionalguard"
	"github.com/positionledger/posengine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := checkTimeZonePolicy(); err != nil {
		slog.Error("unsupported TIME_ZONE_POLICY", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	var rdb *redis.Client

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := seedDefaultConfig(context.Background(), st); err != nil {
		slog.Error("seeding default config failed", "err", err)
		os.Exit(1)
	}

	// --- Configuration cache ---
	configs := configcache.New(st.FindActiveConfigs, envDuration("CONFIG_REFRESH_INTERVAL", 30*time.Second))
	if rdb != nil {
		configs = configs.WithInvalidation(rdb, "posengine:config-invalidate")
		ctx, cancelSub := context.WithCancel(context.Background())
		cleanup = append(cleanup, cancelSub)
		go configs.Subscribe(ctx)
	}
	if _, err := configs.Active(context.Background()); err != nil {
		slog.Warn("initial config cache load failed, will retry lazily", "err", err)
	}

	// --- Calc-request log ---
	partitions := envInt("CALCLOG_PARTITIONS", 8)
	depth := envInt("CALCLOG_DEPTH", 256)
	log := calclog.New(partitions, depth).WithDeadline(envDuration("CALC_REQUEST_DEADLINE", calclog.DefaultDeadline))

	// --- Notional guard ---
	var guard *notionalguard.Guard
	if raw := os.Getenv("MAX_POSITION_NOTIONAL"); raw != "" {
		max, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Error("invalid MAX_POSITION_NOTIONAL", "err", err)
			os.Exit(1)
		}
		guard = notionalguard.New(max)
		slog.Info("notional guard enabled", "max_notional", max)
	}

	// --- Live snapshot feed ---
	hub := httpapi.NewHub()
	go hub.Run()

	// --- Calculation Engine ---
	calcEngine := engine.New(st, metrics.WACFallbackObserver{})
	if guard != nil {
		calcEngine = calcEngine.WithGuard(guard)
	}
	calcEngine = calcEngine.WithSnapshotObserver(hub)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	cleanup = append(cleanup, cancelWorkers)
	go log.Run(workerCtx, func(ctx context.Context, req model.PositionCalcRequest) error {
		start := time.Now()
		err := calcEngine.Handle(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.CalcRequestsHandledTotal.WithLabelValues(string(req.ChangeReason), outcome).Inc()
		metrics.CalcRequestLatency.WithLabelValues(string(req.ChangeReason)).Observe(time.Since(start).Seconds())
		return err
	})

	// --- Ingestion Coordinator ---
	coordinator := ingest.New(st, configs, log)

	// --- HTTP router ---
	handlers := httpapi.NewHandlers(st, coordinator).WithMaxIngestBatch(envInt("INGEST_BATCH_MAX", httpapi.DefaultMaxIngestBatch))
	r := httpapi.NewRouter(handlers, hub)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("posengine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down posengine...")
	log.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("posengine stopped")
}

// seedDefaultConfig ensures the spec §6 default OFFICIAL config exists
// so a fresh deployment has at least one active config to match trades
// against. It is a no-op once any active config is present, so it is
// safe to call on every startup against a durable store.
func seedDefaultConfig(ctx context.Context, st store.Store) error {
	active, err := st.FindActiveConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load active configs: %w", err)
	}
	if len(active) > 0 {
		return nil
	}

	cfg := &model.PositionConfig{
		Type:         model.ConfigOfficial,
		Name:         "Official Positions",
		KeyFormat:    model.KeyBookCounterpartyInstrument,
		PriceMethods: []model.PriceMethod{model.PriceMethodWAC},
		Scope:        model.AllScope(),
		Active:       true,
	}
	if err := st.CreateConfig(ctx, cfg); err != nil {
		return fmt.Errorf("create default config: %w", err)
	}
	slog.Info("seeded default config", "config_id", cfg.ConfigID, "type", cfg.Type, "key_format", cfg.KeyFormat)
	return nil
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer env var, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return v
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration env var, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return d
}

// checkTimeZonePolicy fails fast if TIME_ZONE_POLICY names anything
// other than the fixed UTC calendar-day policy internal/civil
// implements — the policy is not actually switchable, so an operator
// asking for a different one should be told at startup rather than get
// silently ignored.
func checkTimeZonePolicy() error {
	raw := os.Getenv("TIME_ZONE_POLICY")
	if raw == "" || strings.EqualFold(raw, "UTC") {
		return nil
	}
	return fmt.Errorf("TIME_ZONE_POLICY=%q is not supported, this deployment fixes calendar dates to UTC", raw)
}
