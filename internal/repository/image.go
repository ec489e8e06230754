package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/fabricviz/fabricviz-server/internal/model"
)

type ImageRepository interface {
	FindByJobID(ctx context.Context, jobID string) ([]model.Image, error)
	CountByJobID(ctx context.Context, jobID string) (int, error)
	// CreateIfAbsent inserts the image unless one already exists at the same
	// (job, seed). It reports whether a row was written.
	CreateIfAbsent(ctx context.Context, params model.CreateImageParams) (bool, error)
}

type imageRepo struct {
	db queryer
}

func NewImageRepository(db *sqlx.DB) ImageRepository {
	return &imageRepo{db: db}
}

func (r *imageRepo) FindByJobID(ctx context.Context, jobID string) ([]model.Image, error) {
	images := []model.Image{}
	err := r.db.SelectContext(ctx, &images, `
		SELECT * FROM images
		WHERE job_id = $1
		ORDER BY seed ASC
	`, jobID)
	return images, err
}

func (r *imageRepo) CountByJobID(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM images WHERE job_id = $1
	`, jobID)
	return count, err
}

func (r *imageRepo) CreateIfAbsent(ctx context.Context, params model.CreateImageParams) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO images (id, job_id, url, seed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, seed) DO NOTHING
	`, params.ID, params.JobID, params.URL, params.Seed)
	return affectedOne(result, err)
}

func affectedOne(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
