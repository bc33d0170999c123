// Command nutstashd serves the render cache over gRPC. Configuration
// comes from the environment; the persistent tier is an embedded SQLite
// database by default, or Redis when NUTSTASH_BACKEND=redis. If the
// backing store cannot be initialized the daemon still starts, serving a
// degraded cache (every read a miss, writes dropped) so render pipelines
// that treat the cache as an optimization keep working.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	gonutstash "github.com/Keksclan/goNutStash"
	"github.com/Keksclan/goNutStash/metrics"
	"github.com/Keksclan/goNutStash/server"
	"github.com/Keksclan/goNutStash/tier"
	"github.com/Keksclan/goNutStash/tracing"
)

type config struct {
	Addr        string `env:"NUTSTASH_ADDR" envDefault:":7433"`
	MetricsAddr string `env:"NUTSTASH_METRICS_ADDR" envDefault:":9090"`

	Backend    string `env:"NUTSTASH_BACKEND" envDefault:"sqlite"` // sqlite | redis
	SQLitePath string `env:"NUTSTASH_SQLITE_PATH" envDefault:"nutstash.db"`

	RedisAddr     string `env:"NUTSTASH_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"NUTSTASH_REDIS_PASSWORD"`
	RedisDB       int    `env:"NUTSTASH_REDIS_DB" envDefault:"0"`

	MaxItems       int64         `env:"NUTSTASH_MAX_ITEMS" envDefault:"1000"`
	MemoryMaxItems int           `env:"NUTSTASH_MEMORY_MAX_ITEMS" envDefault:"100"`
	Debounce       time.Duration `env:"NUTSTASH_EVICTION_DEBOUNCE" envDefault:"10ms"`
	SyncEviction   bool          `env:"NUTSTASH_SYNC_EVICTION" envDefault:"false"`

	RateRPS   float64 `env:"NUTSTASH_RATE_RPS" envDefault:"0"`
	RateBurst int     `env:"NUTSTASH_RATE_BURST" envDefault:"0"`

	Trace    bool   `env:"NUTSTASH_TRACE" envDefault:"false"`
	LogLevel string `env:"NUTSTASH_LOG_LEVEL" envDefault:"info"`
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal().Err(err).Msg("parse environment")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(lvl)
	}

	// --- persistent tier ------------------------------------------------
	store := openStore(cfg, log)
	if store == nil {
		log.Warn().Msg("persistent tier unavailable, starting degraded")
	}

	// --- manager ----------------------------------------------------------
	met := metrics.New(prometheus.DefaultRegisterer)
	mode := gonutstash.EvictAsync
	if cfg.SyncEviction {
		mode = gonutstash.EvictSyncBeforeWrite
	}
	mgr := gonutstash.New(store,
		gonutstash.WithMaxItems(cfg.MaxItems),
		gonutstash.WithMemoryMaxItems(cfg.MemoryMaxItems),
		gonutstash.WithEvictionDebounce(cfg.Debounce),
		gonutstash.WithEvictionMode(mode),
		gonutstash.WithLogger(log),
		gonutstash.WithMetrics(met),
	)
	defer func() {
		if err := mgr.Close(); err != nil {
			log.Error().Err(err).Msg("close cache manager")
		}
	}()

	// --- server -----------------------------------------------------------
	opts := []server.Option{
		server.WithLogger(log),
		server.WithRecovery(),
		server.WithRequestID(),
	}
	if cfg.RateRPS > 0 {
		opts = append(opts, server.WithRateLimit(cfg.RateRPS, cfg.RateBurst))
	}
	if cfg.Trace {
		exporter, err := stdouttrace.New()
		if err != nil {
			log.Fatal().Err(err).Msg("create trace exporter")
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		opts = append(opts, server.WithTracing(tracing.Config{TracerProvider: tp}))
	}

	srv := server.NewServer(opts...)
	srv.RegisterCache(mgr)

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("listen")
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: srv.MetricsHandler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend).Msg("render cache listening")
		if err := srv.GRPC().Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("serve")
		}
	}()

	// --- shutdown -----------------------------------------------------
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	srv.GRPC().GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(ctx)
}

// openStore opens the configured backing store. It returns nil (degraded
// mode) instead of failing hard: the cache is an optimization, not a
// dependency the render pipeline should crash on.
func openStore(cfg config, log zerolog.Logger) tier.Store {
	switch cfg.Backend {
	case "redis":
		r := tier.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "")
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			log.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
			_ = r.Close()
			return nil
		}
		return r
	case "sqlite":
		s, err := tier.NewSQLite(cfg.SQLitePath)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.SQLitePath).Msg("open sqlite store")
			return nil
		}
		return s
	default:
		log.Error().Str("backend", cfg.Backend).Msg("unknown backend")
		return nil
	}
}
