// Command seckilld persists admitted seckill orders from the Redis order
// stream into PostgreSQL and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-seckill/v1/adapter"
	"github.com/mirkobrombin/go-seckill/v1/metrics"
	"github.com/mirkobrombin/go-seckill/v1/seckill"
	"github.com/mirkobrombin/go-seckill/v1/validator"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("seckilld: config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("seckilld: exit", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	opts := []seckill.Option{
		seckill.WithGroup(cfg.ConsumerGroup),
		seckill.WithClaimIdle(cfg.ConsumerClaimIdle),
		seckill.WithLogger(logger),
	}
	if cfg.ConsumerName != "" {
		opts = append(opts, seckill.WithConsumerName(cfg.ConsumerName))
	}
	if cfg.TraceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
		opts = append(opts, seckill.WithTracing())
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	store, err := adapter.OpenPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	consumer, err := seckill.NewConsumer(rdb, store, nil, opts...)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	metrics.RegisterAll(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx)
	})
	if len(cfg.StockCheckVouchers) > 0 {
		v := validator.New(rdb, store, cfg.stockCheckMode(), cfg.StockCheckInterval, cfg.StockCheckVouchers...)
		g.Go(func() error {
			v.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("seckilld: metrics listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
