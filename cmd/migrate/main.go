package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/bootstrap"
	"github.com/aliskhannn/thumbnailer/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()

	path := "./config/config.yml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	cfg := config.MustLoad(path)

	db, err := bootstrap.OpenDB(cfg.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer bootstrap.CloseDB(db)

	if err := bootstrap.Migrate(ctx, db.Master); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	zlog.Logger.Info().Msg("migrations applied")
}
