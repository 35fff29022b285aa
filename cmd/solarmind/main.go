package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guivega7/Goodwe-Challenge/pkg/inverter"
	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/scheduler"
	"github.com/guivega7/Goodwe-Challenge/pkg/server"
	"github.com/guivega7/Goodwe-Challenge/pkg/storage"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// .env is optional, flags can also come from the environment
	_ = godotenv.Load()

	// init packages
	db := storage.Configured()
	inverters := inverter.Configured(db)

	// init server and scheduler
	srv := server.Configured(inverters, db)
	sched := scheduler.Configured(srv)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// the scheduler winds down with the same context the server watches
	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx)
	}()

	// Run will block until context is canceled or error happens
	err := srv.Run(ctx)
	cancel()
	if serr := <-schedDone; serr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "scheduler failed", "error", serr)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
