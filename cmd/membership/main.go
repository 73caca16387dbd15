// cmd/membership/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"libranexus-lending/internal/config"
	"libranexus-lending/internal/membership"
	"libranexus-lending/internal/server"
	"libranexus-lending/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "membership: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Membership
	if err := config.Load(&cfg); err != nil {
		return err
	}
	logger := server.NewLogger(cfg.Level())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "membership", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	perMin := max(cfg.RateLimit, 1)
	svc := membership.NewService(
		membership.WithLogger(logger),
		membership.WithRateLimit(rate.Every(time.Minute/time.Duration(perMin)), perMin),
	)

	r := server.NewRouter(logger, nil)
	membership.NewHandler(svc).Routes(r)

	logger.Info("🚀 starting membership service", "port", cfg.Port)
	return server.Serve(ctx, ":"+cfg.Port, r, logger)
}
