package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fabricviz/fabricviz-server/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	UpdateSwatch(ctx context.Context, id string, swatchURL string) (*model.Session, error)
	UpdateSilhouette(ctx context.Context, id string, silhouetteURL string) (*model.Session, error)
	UpdatePrompt(ctx context.Context, id string, params model.UpdateSessionPromptParams) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db queryer
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (id, swatch_url, silhouette_url)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.ID, params.SwatchURL, params.SilhouetteURL)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateSwatch(ctx context.Context, id string, swatchURL string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			swatch_url = $2,
			updated_at = $3
		WHERE id = $1
		RETURNING *
	`, id, swatchURL, time.Now())
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) UpdateSilhouette(ctx context.Context, id string, silhouetteURL string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			silhouette_url = $2,
			updated_at = $3
		WHERE id = $1
		RETURNING *
	`, id, silhouetteURL, time.Now())
	return HandleNotFound(&session, err)
}

// UpdatePrompt records the prompt and options used to start a generation.
// Starting a generation implies consent.
func (r *sessionRepo) UpdatePrompt(ctx context.Context, id string, params model.UpdateSessionPromptParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			prompt_text = $2,
			options = $3,
			consent = TRUE,
			updated_at = $4
		WHERE id = $1
	`, id, params.PromptText, params.Options, time.Now())
	return err
}
