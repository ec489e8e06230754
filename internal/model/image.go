package model

import "time"

type Image struct {
	ID        string    `db:"id" json:"id"`
	JobID     string    `db:"job_id" json:"jobId"`
	URL       string    `db:"url" json:"url"`
	Seed      Seed      `db:"seed" json:"seed"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreateImageParams struct {
	ID    string
	JobID string
	URL   string
	Seed  Seed
}
