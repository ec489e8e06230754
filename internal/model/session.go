package model

import (
	"encoding/json"
	"time"
)

type Session struct {
	ID            string           `db:"id" json:"id"`
	SwatchURL     string           `db:"swatch_url" json:"swatchUrl"`
	SilhouetteURL *string          `db:"silhouette_url" json:"silhouetteUrl,omitempty"`
	PromptText    *string          `db:"prompt_text" json:"promptText,omitempty"`
	Options       *json.RawMessage `db:"options" json:"options,omitempty"`
	Consent       bool             `db:"consent" json:"consent"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
}

// HasSilhouette reports whether a silhouette reference was uploaded.
func (s *Session) HasSilhouette() bool {
	return s.SilhouetteURL != nil && *s.SilhouetteURL != ""
}

type CreateSessionParams struct {
	ID            string
	SwatchURL     string
	SilhouetteURL *string
}

type UpdateSessionPromptParams struct {
	PromptText string
	Options    *json.RawMessage
}
