package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fabricviz/fabricviz-server/internal/database"
	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
	"github.com/fabricviz/fabricviz-server/internal/kie"
	"github.com/fabricviz/fabricviz-server/internal/metrics"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/repository"
	"github.com/fabricviz/fabricviz-server/internal/sse"
	"github.com/fabricviz/fabricviz-server/internal/storage"
)

const (
	DefaultFanOut = model.MaxSeeds

	JobUpdatedEvent = "job.updated"

	timedOutReason = "generation timed out"
	failWriteLimit = 5 * time.Second
)

// GenerationClient is the remote image generation API.
type GenerationClient interface {
	CreateTask(ctx context.Context, prompt string, refs []string) (string, error)
	GetTaskStatus(ctx context.Context, taskID string) (*kie.TaskStatus, error)
}

// ImageRehoster copies a vendor result into our own storage, returning the
// source url when that is not possible.
type ImageRehoster interface {
	FetchAndRehost(ctx context.Context, sourceURL, bucket, key string) string
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event sse.Event) error
}

// JobLocker serializes reconciliation passes for one job across instances.
type JobLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type OrchestratorConfig struct {
	MaxAge        time.Duration
	StatusTimeout time.Duration
	LockTTL       time.Duration
}

type BatchRequest struct {
	SessionID string
	Prompt    string
	Options   *json.RawMessage
	FanOut    int
}

type RefineRequest struct {
	SessionID string
	ImageURL  string
	Prompt    string
	Index     int
}

type StartResult struct {
	JobID string `json:"jobId"`
	Index *int   `json:"index,omitempty"`
}

type JobState struct {
	JobID  string          `json:"jobId"`
	Status model.JobStatus `json:"status"`
	Images []model.Image   `json:"images"`
	Error  string          `json:"error,omitempty"`
}

type JobOrchestrator struct {
	tx          TxRunner
	sessionRepo repository.SessionRepository
	jobRepo     repository.JobRepository
	imageRepo   repository.ImageRepository
	client      GenerationClient
	rehoster    ImageRehoster
	publisher   EventPublisher
	locker      JobLocker
	cfg         OrchestratorConfig
	now         func() time.Time
}

func NewJobOrchestrator(
	tx TxRunner,
	sessionRepo repository.SessionRepository,
	jobRepo repository.JobRepository,
	imageRepo repository.ImageRepository,
	client GenerationClient,
	rehoster ImageRehoster,
	publisher EventPublisher,
	locker JobLocker,
	cfg OrchestratorConfig,
) *JobOrchestrator {
	return &JobOrchestrator{
		tx:          tx,
		sessionRepo: sessionRepo,
		jobRepo:     jobRepo,
		imageRepo:   imageRepo,
		client:      client,
		rehoster:    rehoster,
		publisher:   publisher,
		locker:      locker,
		cfg:         cfg,
		now:         time.Now,
	}
}

// StartBatch creates a job and submits one remote task per pose.
func (o *JobOrchestrator) StartBatch(ctx context.Context, req BatchRequest) (*StartResult, error) {
	if req.SessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.MissingRequired("prompt")
	}
	fanOut := req.FanOut
	if fanOut == 0 {
		fanOut = DefaultFanOut
	}
	if fanOut < 1 || fanOut > model.MaxSeeds {
		return nil, apperrors.InvalidInput("numGenerations", fmt.Sprintf("must be between 1 and %d", model.MaxSeeds))
	}

	var session *model.Session
	var job *model.Job
	err := o.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		session, err = o.findSession(ctx, o.sessionRepo.WithTx(tx), req.SessionID)
		if err != nil {
			return err
		}
		if session.SwatchURL == "" {
			return apperrors.ValidationError("Session has no swatch image")
		}

		if err := o.sessionRepo.WithTx(tx).UpdatePrompt(ctx, session.ID, model.UpdateSessionPromptParams{
			PromptText: req.Prompt,
			Options:    req.Options,
		}); err != nil {
			return apperrors.Database(err)
		}

		job, err = o.jobRepo.WithTx(tx).Create(ctx, model.CreateJobParams{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Kind:      model.JobKindBatch,
		})
		if err != nil {
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err)
	}

	refs := []string{session.SwatchURL}
	if session.HasSilhouette() {
		refs = append(refs, *session.SilhouetteURL)
	}
	prompts := BuildPosePrompts(req.Prompt, fanOut, session.HasSilhouette())

	if err := o.submit(ctx, job, prompts, refs); err != nil {
		return nil, err
	}

	log.Info().
		Str("jobId", job.ID).
		Str("sessionId", session.ID).
		Int("fanOut", fanOut).
		Bool("silhouette", session.HasSilhouette()).
		Msg("batch generation started")

	return &StartResult{JobID: job.ID}, nil
}

// StartRefinement creates a single-task job whose result fills req.Index.
func (o *JobOrchestrator) StartRefinement(ctx context.Context, req RefineRequest) (*StartResult, error) {
	if req.SessionID == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if req.ImageURL == "" {
		return nil, apperrors.MissingRequired("imageUrl")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.MissingRequired("prompt")
	}
	seed, err := model.NewSeed(req.Index)
	if err != nil {
		return nil, apperrors.InvalidInput("index", err.Error())
	}
	target := seed.Int()

	session, err := o.findSession(ctx, o.sessionRepo, req.SessionID)
	if err != nil {
		return nil, err
	}

	job, err := o.jobRepo.Create(ctx, model.CreateJobParams{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Kind:        model.JobKindRefinement,
		TargetIndex: &target,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	refs := []string{req.ImageURL}
	if session.SwatchURL != "" {
		refs = append(refs, session.SwatchURL)
	}
	if session.HasSilhouette() {
		refs = append(refs, *session.SilhouetteURL)
	}

	if err := o.submit(ctx, job, []string{BuildRefinePrompt(req.Prompt)}, refs); err != nil {
		return nil, err
	}

	log.Info().
		Str("jobId", job.ID).
		Str("sessionId", session.ID).
		Int("index", target).
		Msg("refinement started")

	return &StartResult{JobID: job.ID, Index: &target}, nil
}

// submit creates every task concurrently and records the ids only when all
// of them succeeded. Otherwise the job is failed.
func (o *JobOrchestrator) submit(ctx context.Context, job *model.Job, prompts []string, refs []string) error {
	taskIDs := make([]string, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		g.Go(func() error {
			taskID, err := o.client.CreateTask(gctx, prompt, refs)
			if err != nil {
				return fmt.Errorf("create task %d: %w", i, err)
			}
			taskIDs[i] = taskID
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.failJob(ctx, job.ID, err.Error())
		if kie.IsInsufficientCredits(err) {
			metrics.TasksSubmitted.WithLabelValues("insufficient_credits").Inc()
			return apperrors.InsufficientCredits(err)
		}
		metrics.TasksSubmitted.WithLabelValues("error").Inc()
		return apperrors.RemoteService("Failed to start generation", err)
	}
	metrics.TasksSubmitted.WithLabelValues("ok").Add(float64(len(taskIDs)))

	ok, err := o.jobRepo.MarkProcessing(ctx, job.ID, taskIDs)
	if err != nil {
		return apperrors.Database(err)
	}
	if !ok {
		return apperrors.Conflict("Job is no longer pending")
	}
	metrics.JobTransitions.WithLabelValues(string(model.JobStatusProcessing)).Inc()

	return nil
}

func (o *JobOrchestrator) failJob(ctx context.Context, jobID string, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteLimit)
	defer cancel()

	ok, err := o.jobRepo.MarkFailed(ctx, jobID, reason)
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Msg("failed to mark job failed")
		return
	}
	if ok {
		metrics.JobTransitions.WithLabelValues(string(model.JobStatusFailed)).Inc()
		log.Warn().Str("jobId", jobID).Str("reason", reason).Msg("job failed")
	}
}

// Reconcile advances a job from the remote task states and returns its
// current status with every image resolved so far. It is safe to call
// repeatedly and concurrently.
func (o *JobOrchestrator) Reconcile(ctx context.Context, jobID string) (*JobState, error) {
	job, err := o.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusProcessing:
	case model.JobStatusPending:
		if o.expired(job) {
			return o.expirePending(ctx, job)
		}
		return o.snapshot(ctx, job)
	default:
		return o.snapshot(ctx, job)
	}

	if o.locker != nil {
		release, acquired, err := o.locker.TryLock(ctx, "reconcile:"+job.ID, o.cfg.LockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("jobId", job.ID).Msg("reconcile lock unavailable, continuing unlocked")
		case !acquired:
			return o.snapshot(ctx, job)
		default:
			defer release()
		}
	}

	start := o.now()
	existing, err := o.imageRepo.FindByJobID(ctx, job.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	resolved := make(map[model.Seed]bool, len(existing))
	for _, img := range existing {
		resolved[img.Seed] = true
	}

	created := o.pollOpenTasks(ctx, job, resolved)

	images, err := o.imageRepo.FindByJobID(ctx, job.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	state := &JobState{JobID: job.ID, Status: model.JobStatusProcessing, Images: images}

	switch {
	case len(job.TaskIDs) > 0 && len(images) >= len(job.TaskIDs):
		ok, err := o.jobRepo.MarkCompleted(ctx, job.ID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if !ok {
			return o.reload(ctx, job.ID)
		}
		state.Status = model.JobStatusCompleted
		metrics.JobTransitions.WithLabelValues(string(model.JobStatusCompleted)).Inc()
		log.Info().Str("jobId", job.ID).Int("images", len(images)).Msg("job completed")

	case o.expired(job):
		ok, err := o.jobRepo.MarkFailed(ctx, job.ID, timedOutReason)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if !ok {
			return o.reload(ctx, job.ID)
		}
		state.Status = model.JobStatusFailed
		state.Error = timedOutReason
		metrics.JobTransitions.WithLabelValues(string(model.JobStatusFailed)).Inc()
		log.Warn().
			Str("jobId", job.ID).
			Int("images", len(images)).
			Int("tasks", len(job.TaskIDs)).
			Msg("job timed out")
	}

	metrics.ReconcileDuration.Observe(o.now().Sub(start).Seconds())

	if created > 0 || state.Status != model.JobStatusProcessing {
		o.publish(ctx, state)
	}

	return state, nil
}

func (o *JobOrchestrator) expired(job *model.Job) bool {
	return o.cfg.MaxAge > 0 && o.now().Sub(job.CreatedAt) > o.cfg.MaxAge
}

// expirePending fails a job whose tasks were never submitted, e.g. when the
// process died between creating the job and recording its task ids.
func (o *JobOrchestrator) expirePending(ctx context.Context, job *model.Job) (*JobState, error) {
	ok, err := o.jobRepo.MarkFailed(ctx, job.ID, timedOutReason)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !ok {
		return o.reload(ctx, job.ID)
	}
	metrics.JobTransitions.WithLabelValues(string(model.JobStatusFailed)).Inc()
	log.Warn().Str("jobId", job.ID).Msg("pending job timed out")

	state, err := o.snapshot(ctx, job)
	if err != nil {
		return nil, err
	}
	state.Status = model.JobStatusFailed
	state.Error = timedOutReason
	o.publish(ctx, state)
	return state, nil
}

func (o *JobOrchestrator) pollOpenTasks(ctx context.Context, job *model.Job, resolved map[model.Seed]bool) int {
	var wg sync.WaitGroup
	var created atomic.Int32

	for i, taskID := range job.TaskIDs {
		seed, err := job.SeedForTask(i)
		if err != nil {
			log.Error().Err(err).Str("jobId", job.ID).Int("task", i).Msg("task has no valid slot")
			continue
		}
		if resolved[seed] {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.resolveTask(ctx, job.ID, taskID, seed) {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	return int(created.Load())
}

// resolveTask polls one task and materializes its image on success. Errors
// leave the slot open for the next pass.
func (o *JobOrchestrator) resolveTask(ctx context.Context, jobID, taskID string, seed model.Seed) bool {
	statusCtx, cancel := context.WithTimeout(ctx, o.cfg.StatusTimeout)
	status, err := o.client.GetTaskStatus(statusCtx, taskID)
	cancel()
	if err != nil {
		metrics.TaskPolls.WithLabelValues("error").Inc()
		log.Warn().
			Err(err).
			Str("jobId", jobID).
			Str("taskId", taskID).
			Int("seed", seed.Int()).
			Msg("task status lookup failed")
		return false
	}
	metrics.TaskPolls.WithLabelValues(string(status.State)).Inc()

	switch status.State {
	case kie.TaskStateFail:
		log.Warn().
			Str("jobId", jobID).
			Str("taskId", taskID).
			Int("seed", seed.Int()).
			Str("failMsg", status.FailureMessage).
			Msg("remote task failed")
		return false
	case kie.TaskStatePending:
		return false
	}

	sourceURL, ok := status.FirstResultURL()
	if !ok {
		log.Debug().Str("jobId", jobID).Str("taskId", taskID).Msg("task succeeded without result url")
		return false
	}

	finalURL := o.rehoster.FetchAndRehost(ctx, sourceURL, storage.BucketGenerations, storage.GeneratedKey(jobID, seed))
	if finalURL == sourceURL {
		metrics.RehostFallbacks.Inc()
	}

	inserted, err := o.imageRepo.CreateIfAbsent(ctx, model.CreateImageParams{
		ID:    uuid.NewString(),
		JobID: jobID,
		URL:   finalURL,
		Seed:  seed,
	})
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Int("seed", seed.Int()).Msg("failed to store image")
		return false
	}
	if inserted {
		metrics.ImagesCreated.Inc()
		log.Info().
			Str("jobId", jobID).
			Str("taskId", taskID).
			Int("seed", seed.Int()).
			Msg("image resolved")
	}
	return inserted
}

// State returns the stored state of a job without polling the vendor.
func (o *JobOrchestrator) State(ctx context.Context, jobID string) (*JobState, error) {
	job, err := o.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.snapshot(ctx, job)
}

func (o *JobOrchestrator) reload(ctx context.Context, jobID string) (*JobState, error) {
	job, err := o.findJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return o.snapshot(ctx, job)
}

func (o *JobOrchestrator) snapshot(ctx context.Context, job *model.Job) (*JobState, error) {
	images, err := o.imageRepo.FindByJobID(ctx, job.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	state := &JobState{JobID: job.ID, Status: job.Status, Images: images}
	if job.Error != nil {
		state.Error = *job.Error
	}
	return state, nil
}

func (o *JobOrchestrator) publish(ctx context.Context, state *JobState) {
	if o.publisher == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Str("jobId", state.JobID).Msg("failed to marshal job event")
		return
	}
	if err := o.publisher.Publish(ctx, sse.JobTopic(state.JobID), sse.Event{Type: JobUpdatedEvent, Data: data}); err != nil {
		log.Warn().Err(err).Str("jobId", state.JobID).Msg("failed to publish job event")
	}
}

func (o *JobOrchestrator) findSession(ctx context.Context, repo repository.SessionRepository, id string) (*model.Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("Session")
	}
	session, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

func (o *JobOrchestrator) findJob(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("Job")
	}
	job, err := o.jobRepo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if job == nil {
		return nil, apperrors.NotFound("Job")
	}
	return job, nil
}

func asAppError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	return apperrors.Database(err)
}
