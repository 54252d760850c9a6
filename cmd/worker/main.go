package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/bootstrap"
	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/handlers/job"
	"github.com/aliskhannn/thumbnailer/internal/processor"
	"github.com/aliskhannn/thumbnailer/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.MustLoad(configPath())

	if err := run(ctx, cfg); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("worker failed")
	}

	zlog.Logger.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := bootstrap.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	defer bootstrap.CloseDB(db)

	strategy := bootstrap.Strategy(cfg.Retry)

	blobs, err := bootstrap.NewBlobStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	repo, closeCache, err := bootstrap.NewRecordStore(ctx, db, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	proc := processor.New(blobs, cfg.Images.Resolutions, cfg.Images.JPEGQuality, cfg.Worker.ResizeWorkers)
	w := worker.New(repo, proc, cfg.Worker.JobTimeout)

	consumers, closeConsumers, err := bootstrap.NewConsumers(cfg.Queue, strategy, cfg.Worker.Consumers, job.NewUploadedHandler(w))
	if err != nil {
		return err
	}
	defer closeConsumers()

	zlog.Logger.Info().
		Str("queue", cfg.Queue.Driver).
		Int("consumers", len(consumers)).
		Int("resize_workers", cfg.Worker.ResizeWorkers).
		Msg("worker started")

	return bootstrap.RunConsumers(ctx, consumers)
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.yml"
}
