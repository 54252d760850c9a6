// Package bootstrap builds the long-lived dependencies shared by the api,
// worker and migrate processes from the loaded configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	imagecache "github.com/aliskhannn/thumbnailer/internal/cache/image"
	"github.com/aliskhannn/thumbnailer/internal/config"
	"github.com/aliskhannn/thumbnailer/internal/model"
	imagerepo "github.com/aliskhannn/thumbnailer/internal/repository/image"
	"github.com/aliskhannn/thumbnailer/internal/storage/file"
	"github.com/aliskhannn/thumbnailer/internal/storage/object"
	"github.com/aliskhannn/thumbnailer/migrations"
)

// BlobStore is the contract both storage drivers implement.
type BlobStore interface {
	Save(ctx context.Context, key string, src io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Publisher is the contract of the job queue's producing side.
type Publisher interface {
	Publish(ctx context.Context, job model.Job) error
	Ping(ctx context.Context) error
	Close() error
}

// RecordStore is the contract of the image record store, cached or not.
type RecordStore interface {
	CreateImage(ctx context.Context, img model.Image) (model.Image, error)
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)
	Transition(ctx context.Context, id uuid.UUID, next model.Status) (model.Image, error)
	Ping(ctx context.Context) error
}

// Strategy converts the retry configuration.
func Strategy(cfg config.Retry) retry.Strategy {
	return retry.Strategy{
		Attempts: cfg.Attempts,
		Delay:    cfg.Delay,
		Backoff:  cfg.Backoff,
	}
}

// OpenDB connects to PostgreSQL (master and slaves).
func OpenDB(cfg config.Database) (*dbpg.DB, error) {
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Slaves))
	for _, s := range cfg.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return db, nil
}

// CloseDB closes master and slave databases.
func CloseDB(db *dbpg.DB) {
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close master DB")
	}

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Error().Err(err).Int("slave", i).Msg("failed to close slave DB")
		}
	}
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// NewBlobStore builds the configured storage driver.
func NewBlobStore(ctx context.Context, cfg config.Storage) (BlobStore, error) {
	switch cfg.Driver {
	case config.StorageFile:
		s, err := file.NewStorage(cfg.BaseDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageObject:
		s, err := object.NewStorage(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.UseSSL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewRedis connects to the cache and checks it answers.
func NewRedis(ctx context.Context, cfg config.Cache) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewRecordStore builds the PostgreSQL record store, wrapped with the Redis
// cache when it is enabled. The returned close function releases the cache
// connection.
func NewRecordStore(ctx context.Context, db *dbpg.DB, cfg config.Cache) (RecordStore, func(), error) {
	repo := imagerepo.NewRepository(db)
	if !cfg.Enabled {
		return repo, func() {}, nil
	}

	client, err := NewRedis(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	closeCache := func() {
		if err := client.Close(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close redis client")
		}
	}

	return imagecache.NewRepository(repo, client, cfg.TTL), closeCache, nil
}
