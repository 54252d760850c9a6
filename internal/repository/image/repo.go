package image

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/thumbnailer/internal/model"
)

var (
	ErrImageNotFound     = errors.New("image not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository persists image records in PostgreSQL.
//
// All statements go to the master node: the worker and the API read their own
// writes, which replicas do not guarantee.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateImage inserts a new record and returns it with the timestamps assigned
// by the database.
func (r *Repository) CreateImage(ctx context.Context, img model.Image) (model.Image, error) {
	query := `
		INSERT INTO images (id, status, original_filename, content_type)
		VALUES ($1, $2::image_status, $3, $4)
		RETURNING created_at, updated_at
	`

	err := r.db.Master.QueryRowContext(
		ctx, query, img.ID, string(img.Status), img.OriginalFilename, img.ContentType,
	).Scan(&img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return model.Image{}, fmt.Errorf("create: failed to insert image: %w", err)
	}

	return img, nil
}

// GetImage retrieves an image record by ID from the database.
func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (model.Image, error) {
	query := `
		SELECT status, original_filename, content_type, created_at, updated_at
		FROM images
		WHERE id = $1
	`

	img := model.Image{ID: id}

	err := r.db.Master.QueryRowContext(ctx, query, id).Scan(
		&img.Status, &img.OriginalFilename, &img.ContentType, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Image{}, ErrImageNotFound
		}

		return model.Image{}, fmt.Errorf("get: failed to get image: %w", err)
	}

	return img, nil
}

// Transition moves the record to next and returns the updated record.
//
// The current status is read under a row lock in the same transaction as the
// update, so the check and the write cannot be interleaved with another
// transition of the same record.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, next model.Status) (model.Image, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return model.Image{}, fmt.Errorf("transition: failed to begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current model.Status
	err = tx.QueryRowContext(ctx, `SELECT status FROM images WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Image{}, ErrImageNotFound
		}

		return model.Image{}, fmt.Errorf("transition: failed to lock image: %w", err)
	}

	if !current.CanTransitionTo(next) {
		return model.Image{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}

	query := `
		UPDATE images
		SET status = $1::image_status, updated_at = now()
		WHERE id = $2
		RETURNING original_filename, content_type, created_at, updated_at
	`

	img := model.Image{ID: id, Status: next}

	err = tx.QueryRowContext(ctx, query, string(next), id).Scan(
		&img.OriginalFilename, &img.ContentType, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return model.Image{}, fmt.Errorf("transition: failed to update image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Image{}, fmt.Errorf("transition: failed to commit: %w", err)
	}

	return img, nil
}

// Ping checks that the database answers queries.
func (r *Repository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.Master.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}
