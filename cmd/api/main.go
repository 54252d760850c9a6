package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"

	healthhandler "github.com/aliskhannn/thumbnailer/internal/api/handlers/health"
	"github.com/aliskhannn/thumbnailer/internal/api/handlers/image"
	"github.com/aliskhannn/thumbnailer/internal/api/router"
	"github.com/aliskhannn/thumbnailer/internal/api/server"
	"github.com/aliskhannn/thumbnailer/internal/bootstrap"
	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/service/health"
	imagesvc "github.com/aliskhannn/thumbnailer/internal/service/image"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.MustLoad(configPath())

	db, err := bootstrap.OpenDB(cfg.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer bootstrap.CloseDB(db)

	if cfg.Database.AutoMigrate {
		if err := bootstrap.Migrate(ctx, db.Master); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	strategy := bootstrap.Strategy(cfg.Retry)

	blobs, err := bootstrap.NewBlobStore(ctx, cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	repo, closeCache, err := bootstrap.NewRecordStore(ctx, db, cfg.Cache)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to cache")
	}
	defer closeCache()

	publisher, err := bootstrap.NewPublisher(cfg.Queue, strategy)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to job queue")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close job queue publisher")
		}
	}()

	service := imagesvc.NewService(repo, blobs, publisher, imagesvc.Options{
		AllowedContentTypes: cfg.Images.AllowedContentTypes,
		MaxUploadBytes:      cfg.Images.MaxUploadBytes(),
		Resolutions:         cfg.Images.Resolutions,
	})

	checks := health.NewService(health.DefaultTimeout,
		health.Check{Name: "database", Pinger: repo},
		health.Check{Name: "storage", Pinger: blobs},
		health.Check{Name: "queue", Pinger: publisher},
	)

	r := router.Setup(
		image.NewHandler(service, cfg.Images.MaxUploadBytes()),
		healthhandler.NewHandler(checks),
	)
	s := server.New(cfg.Server.HTTPPort, r, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	serveErr := make(chan error, 1)
	go func() {
		zlog.Logger.Info().Str("addr", s.Addr).Msg("starting http server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Block until a signal arrives or the listener fails.
	select {
	case <-ctx.Done():
		zlog.Logger.Info().Msg("context done")
	case err := <-serveErr:
		zlog.Logger.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.yml"
}
