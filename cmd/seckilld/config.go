package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mirkobrombin/go-seckill/v1/validator"
)

// Config is read from the environment.
type Config struct {
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	PostgresDSN   string `envconfig:"POSTGRES_DSN" required:"true"`
	ConsumerGroup string `envconfig:"CONSUMER_GROUP" default:"g1"`
	// ConsumerName defaults to the host name. Entries left pending by a
	// consumer that has not come back are claimed after ConsumerClaimIdle.
	ConsumerName      string        `envconfig:"CONSUMER_NAME"`
	ConsumerClaimIdle time.Duration `envconfig:"CONSUMER_CLAIM_IDLE" default:"1m"`
	MetricsAddr       string        `envconfig:"METRICS_ADDR" default:":2112"`
	TraceStdout       bool          `envconfig:"TRACE_STDOUT" default:"false"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`

	// StockCheckVouchers lists vouchers whose Redis stock is compared with
	// the relational stock every StockCheckInterval.
	StockCheckVouchers []int64       `envconfig:"STOCK_CHECK_VOUCHERS"`
	StockCheckInterval time.Duration `envconfig:"STOCK_CHECK_INTERVAL" default:"30s"`
	StockCheckHeal     bool          `envconfig:"STOCK_CHECK_HEAL" default:"false"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	return cfg, nil
}

func (c Config) level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c Config) stockCheckMode() validator.Mode {
	if c.StockCheckHeal {
		return validator.ModeAutoHeal
	}
	return validator.ModeAlert
}
