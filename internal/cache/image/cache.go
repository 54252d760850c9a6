// Package image provides a Redis write-through cache in front of the image
// record store.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/thumbnailer/internal/model"
)

const keyPrefix = "image:"

// store is the record store being cached.
type store interface {
	CreateImage(ctx context.Context, img model.Image) (model.Image, error)
	GetImage(ctx context.Context, id uuid.UUID) (model.Image, error)
	Transition(ctx context.Context, id uuid.UUID, next model.Status) (model.Image, error)
	Ping(ctx context.Context) error
}

// Repository caches image records. Every committed Transition overwrites the
// cached copy, and a read only fills the cache when no entry exists, so a
// fill racing a transition cannot replace the newer state.
type Repository struct {
	store  store
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRepository wraps s with a cache backed by client.
func NewRepository(s store, client redis.UniversalClient, ttl time.Duration) *Repository {
	return &Repository{store: s, client: client, ttl: ttl}
}

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// CreateImage passes through. The record is cached on first read.
func (r *Repository) CreateImage(ctx context.Context, img model.Image) (model.Image, error) {
	return r.store.CreateImage(ctx, img)
}

// GetImage returns the cached record when present, otherwise reads the store
// and fills the cache unless a transition already wrote an entry.
func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	if img, ok := r.lookup(ctx, id); ok {
		return img, nil
	}

	img, err := r.store.GetImage(ctx, id)
	if err != nil {
		return model.Image{}, err
	}

	r.fill(ctx, img)

	return img, nil
}

// Transition writes through to the store and then overwrites the cached copy
// with the committed record. If the cache cannot be updated the entry is
// dropped.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, next model.Status) (model.Image, error) {
	img, err := r.store.Transition(ctx, id, next)
	if err != nil {
		return model.Image{}, err
	}

	if err := r.write(ctx, img); err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("failed to update cached image")

		if err := r.client.Del(ctx, key(id)).Err(); err != nil {
			zlog.Logger.Error().Err(err).Str("image_id", id.String()).Msg("failed to invalidate cached image")
		}
	}

	return img, nil
}

// Ping checks the underlying store. The cache is optional and does not affect
// health.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Repository) lookup(ctx context.Context, id uuid.UUID) (model.Image, bool) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("cache read failed")
		}
		return model.Image{}, false
	}

	var img model.Image
	if err := json.Unmarshal(data, &img); err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", id.String()).Msg("dropping undecodable cache entry")
		r.client.Del(ctx, key(id))
		return model.Image{}, false
	}

	return img, true
}

// fill caches img only if the key is absent.
func (r *Repository) fill(ctx context.Context, img model.Image) {
	data, err := json.Marshal(img)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("image_id", img.ID.String()).Msg("failed to encode image for cache")
		return
	}

	if err := r.client.SetNX(ctx, key(img.ID), data, r.ttl).Err(); err != nil {
		zlog.Logger.Warn().Err(fmt.Errorf("setnx %s: %w", key(img.ID), err)).Msg("cache write failed")
	}
}

// write overwrites the cached copy of img.
func (r *Repository) write(ctx context.Context, img model.Image) error {
	data, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}

	if err := r.client.Set(ctx, key(img.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key(img.ID), err)
	}

	return nil
}
