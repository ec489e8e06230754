package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fabricviz/fabricviz-server/internal/model"
)

type JobRepository interface {
	FindByID(ctx context.Context, id string) (*model.Job, error)
	Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error)
	// MarkProcessing stores the task ids and moves a PENDING job to PROCESSING.
	MarkProcessing(ctx context.Context, id string, taskIDs []string) (bool, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
	// FailStale fails every open job created before cutoff.
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	WithTx(tx *sqlx.Tx) JobRepository
}

type jobRepo struct {
	db queryer
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) WithTx(tx *sqlx.Tx) JobRepository {
	return &jobRepo{db: tx}
}

func (r *jobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := r.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, id)
	return HandleNotFound(&job, err)
}

func (r *jobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error) {
	var job model.Job
	err := r.db.GetContext(ctx, &job, `
		INSERT INTO jobs (id, session_id, kind, status, target_index)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.ID, params.SessionID, params.Kind, model.JobStatusPending, params.TargetIndex)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) MarkProcessing(ctx context.Context, id string, taskIDs []string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			task_ids = $2,
			status = 'PROCESSING',
			updated_at = $3
		WHERE id = $1 AND status = 'PENDING'
	`, id, pq.StringArray(taskIDs), time.Now())
	return affectedOne(result, err)
}

// MarkCompleted only transitions from PROCESSING so terminal states stay put.
func (r *jobRepo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'COMPLETED',
			updated_at = $2
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, time.Now())
	return affectedOne(result, err)
}

func (r *jobRepo) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'FAILED',
			error = $2,
			updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, id, reason, time.Now())
	return affectedOne(result, err)
}

func (r *jobRepo) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = 'FAILED',
			error = $2,
			updated_at = NOW()
		WHERE status IN ('PENDING', 'PROCESSING') AND created_at < $1
	`, cutoff, reason)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
