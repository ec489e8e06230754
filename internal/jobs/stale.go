package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fabricviz/fabricviz-server/internal/metrics"
	"github.com/fabricviz/fabricviz-server/internal/model"
)

const (
	StaleReason  = "generation timed out"
	sweepTimeout = 30 * time.Second
)

type StaleJobFailer interface {
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// StaleJobSweeper fails jobs that stayed open longer than maxAge, so jobs
// nobody polls still reach a terminal state.
type StaleJobSweeper struct {
	jobs     StaleJobFailer
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

func NewStaleJobSweeper(jobs StaleJobFailer, maxAge, interval time.Duration) *StaleJobSweeper {
	return &StaleJobSweeper{
		jobs:     jobs,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (s *StaleJobSweeper) Start() {
	go s.run()
	log.Info().
		Dur("interval", s.interval).
		Dur("maxAge", s.maxAge).
		Msg("stale job sweeper started")
}

func (s *StaleJobSweeper) Stop() {
	close(s.done)
	log.Info().Msg("stale job sweeper stopped")
}

func (s *StaleJobSweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *StaleJobSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := s.now().Add(-s.maxAge)
	count, err := s.jobs.FailStale(ctx, cutoff, StaleReason)
	if err != nil {
		log.Error().Err(err).Msg("failed to sweep stale jobs")
		return
	}
	if count > 0 {
		metrics.JobTransitions.WithLabelValues(string(model.JobStatusFailed)).Add(float64(count))
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("failed stale jobs")
	}
}
