package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"backend-fieldtrack/internal/buffer"
	"backend-fieldtrack/internal/config"
	"backend-fieldtrack/internal/db"
	"backend-fieldtrack/internal/server"
)

const shutdownTimeout = 5 * time.Second

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(log zerolog.Logger) error {
	cfg := config.Load()

	pool, err := db.ConnectPostgres(cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient := db.ConnectRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	buf, err := buffer.Open(cfg.BufferPath)
	if err != nil {
		return err
	}
	defer buf.Close()

	srv := server.New(server.Deps{
		Config: cfg,
		DB:     pool,
		Redis:  redisClient,
		Buffer: buf,
		Log:    log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Re-adopt sessions that were live when the previous process died.
	if err := srv.Registry.Reconcile(ctx); err != nil {
		log.Warn().Err(err).Msg("session reconcile failed")
	}

	go srv.Gateway.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.App.Listen(cfg.ServerPort)
	}()
	log.Info().Str("addr", cfg.ServerPort).Msg("listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	return srv.App.ShutdownWithTimeout(shutdownTimeout)
}
