package model

import (
	"time"

	"github.com/lib/pq"
)

type Job struct {
	ID          string         `db:"id" json:"id"`
	SessionID   string         `db:"session_id" json:"sessionId"`
	Kind        JobKind        `db:"kind" json:"kind"`
	Status      JobStatus      `db:"status" json:"status"`
	TaskIDs     pq.StringArray `db:"task_ids" json:"taskIds"`
	TargetIndex *int           `db:"target_index" json:"targetIndex,omitempty"`
	Error       *string        `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// SeedForTask maps a task position to the grid slot its image fills.
// Refinements write their single result at the target index.
func (j *Job) SeedForTask(i int) (Seed, error) {
	if j.TargetIndex != nil {
		return NewSeed(*j.TargetIndex)
	}
	return NewSeed(i)
}

type CreateJobParams struct {
	ID          string
	SessionID   string
	Kind        JobKind
	TargetIndex *int
}
