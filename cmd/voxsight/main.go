package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	log "log/slog"

	"voxsight/internal/app"
	"voxsight/internal/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.Level(),
	})))

	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(2)
	}

	log.Info("Booting up")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error("Boot failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	log.Info("Boot up - successful")

	if err := a.Run(ctx); err != nil {
		log.Error("Stopped", "err", err)
		a.Close()
		os.Exit(1)
	}
	log.Info("Shut down")
}
