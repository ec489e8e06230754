package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
	"github.com/fabricviz/fabricviz-server/internal/kie"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/sse"
	"github.com/fabricviz/fabricviz-server/internal/storage"
)

const (
	testSessionID = "6f1c1f3e-2a59-4b8e-9d6a-0c4f1a7e5b21"
	testJobID     = "b3d7f0a2-8c14-4e6f-a2b9-5d1e3c7f9a40"
)

type orchestratorFixture struct {
	sessions  *mockSessionRepo
	jobs      *mockJobRepo
	images    *mockImageRepo
	client    *mockGenerationClient
	rehoster  *mockRehoster
	publisher *mockPublisher
	orch      *JobOrchestrator
}

func newOrchestratorFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		sessions:  new(mockSessionRepo),
		jobs:      new(mockJobRepo),
		images:    new(mockImageRepo),
		client:    new(mockGenerationClient),
		rehoster:  new(mockRehoster),
		publisher: new(mockPublisher),
	}
	f.orch = NewJobOrchestrator(fakeTx{}, f.sessions, f.jobs, f.images, f.client, f.rehoster, f.publisher, nil, OrchestratorConfig{
		MaxAge:        15 * time.Minute,
		StatusTimeout: time.Second,
		LockTTL:       time.Second,
	})
	return f
}

func (f *orchestratorFixture) assertExpectations(t *testing.T) {
	f.sessions.AssertExpectations(t)
	f.jobs.AssertExpectations(t)
	f.images.AssertExpectations(t)
	f.client.AssertExpectations(t)
	f.rehoster.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func strPtr(s string) *string { return &s }

func processingJob(taskIDs ...string) *model.Job {
	return &model.Job{
		ID:        testJobID,
		SessionID: testSessionID,
		Kind:      model.JobKindBatch,
		Status:    model.JobStatusProcessing,
		TaskIDs:   taskIDs,
		CreatedAt: time.Now(),
	}
}

func successStatus(taskID, url string) *kie.TaskStatus {
	return &kie.TaskStatus{TaskID: taskID, State: kie.TaskStateSuccess, ResultURLs: []string{url}}
}

func TestStartBatch(t *testing.T) {
	t.Run("submits one task per pose and records task ids in order", func(t *testing.T) {
		f := newOrchestratorFixture()
		session := &model.Session{ID: testSessionID, SwatchURL: "https://cdn.test/swatches/a.png"}
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(session, nil)
		f.sessions.On("UpdatePrompt", mock.Anything, testSessionID, model.UpdateSessionPromptParams{PromptText: "linen blazer"}).Return(nil)
		f.jobs.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateJobParams) bool {
			return p.SessionID == testSessionID && p.Kind == model.JobKindBatch && p.TargetIndex == nil
		})).Return(&model.Job{ID: testJobID, SessionID: testSessionID, Status: model.JobStatusPending}, nil)

		prompts := BuildPosePrompts("linen blazer", 2, false)
		refs := []string{session.SwatchURL}
		f.client.On("CreateTask", mock.Anything, prompts[0], refs).Return("task-0", nil)
		f.client.On("CreateTask", mock.Anything, prompts[1], refs).Return("task-1", nil)
		f.jobs.On("MarkProcessing", mock.Anything, testJobID, []string{"task-0", "task-1"}).Return(true, nil)

		result, err := f.orch.StartBatch(context.Background(), BatchRequest{
			SessionID: testSessionID,
			Prompt:    "linen blazer",
			FanOut:    2,
		})

		require.NoError(t, err)
		assert.Equal(t, testJobID, result.JobID)
		assert.Nil(t, result.Index)
		f.assertExpectations(t)
	})

	t.Run("uses silhouette prompts and references when present", func(t *testing.T) {
		f := newOrchestratorFixture()
		session := &model.Session{
			ID:            testSessionID,
			SwatchURL:     "https://cdn.test/swatches/a.png",
			SilhouetteURL: strPtr("https://cdn.test/silhouettes/b.png"),
		}
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(session, nil)
		f.sessions.On("UpdatePrompt", mock.Anything, testSessionID, mock.Anything).Return(nil)
		f.jobs.On("Create", mock.Anything, mock.Anything).Return(&model.Job{ID: testJobID, Status: model.JobStatusPending}, nil)

		refs := []string{session.SwatchURL, *session.SilhouetteURL}
		f.client.On("CreateTask", mock.Anything, mock.MatchedBy(func(p string) bool {
			return assert.Contains(t, p, "SECOND reference image")
		}), refs).Return("task", nil).Times(4)
		f.jobs.On("MarkProcessing", mock.Anything, testJobID, []string{"task", "task", "task", "task"}).Return(true, nil)

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "dress"})

		require.NoError(t, err)
		f.assertExpectations(t)
	})

	t.Run("rejects fan-out outside the grid", func(t *testing.T) {
		f := newOrchestratorFixture()

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "x", FanOut: 5})

		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
		f.assertExpectations(t)
	})

	t.Run("requires prompt", func(t *testing.T) {
		f := newOrchestratorFixture()

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "  "})

		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		f := newOrchestratorFixture()
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(nil, nil)

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "x"})

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
		f.assertExpectations(t)
	})

	t.Run("malformed session id is not found", func(t *testing.T) {
		f := newOrchestratorFixture()

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: "nope", Prompt: "x"})

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
		f.sessions.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("session without swatch is rejected", func(t *testing.T) {
		f := newOrchestratorFixture()
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.Session{ID: testSessionID}, nil)

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "x"})

		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
		f.jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("submission failure fails the job", func(t *testing.T) {
		f := newOrchestratorFixture()
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.Session{ID: testSessionID, SwatchURL: "s"}, nil)
		f.sessions.On("UpdatePrompt", mock.Anything, testSessionID, mock.Anything).Return(nil)
		f.jobs.On("Create", mock.Anything, mock.Anything).Return(&model.Job{ID: testJobID, Status: model.JobStatusPending}, nil)
		f.client.On("CreateTask", mock.Anything, mock.Anything, mock.Anything).Return("", &kie.APIError{StatusCode: 500, Code: 500, Message: "boom"})
		f.jobs.On("MarkFailed", mock.Anything, testJobID, mock.MatchedBy(func(reason string) bool {
			return assert.Contains(t, reason, "boom")
		})).Return(true, nil)

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "x", FanOut: 1})

		assert.Equal(t, apperrors.ErrCodeRemoteService, apperrors.GetCode(err))
		f.jobs.AssertNotCalled(t, "MarkProcessing", mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("insufficient credits surfaces its own code", func(t *testing.T) {
		f := newOrchestratorFixture()
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(&model.Session{ID: testSessionID, SwatchURL: "s"}, nil)
		f.sessions.On("UpdatePrompt", mock.Anything, testSessionID, mock.Anything).Return(nil)
		f.jobs.On("Create", mock.Anything, mock.Anything).Return(&model.Job{ID: testJobID, Status: model.JobStatusPending}, nil)
		f.client.On("CreateTask", mock.Anything, mock.Anything, mock.Anything).Return("", &kie.APIError{StatusCode: 402, Code: 402, Message: "credits insufficient"})
		f.jobs.On("MarkFailed", mock.Anything, testJobID, mock.Anything).Return(true, nil)

		_, err := f.orch.StartBatch(context.Background(), BatchRequest{SessionID: testSessionID, Prompt: "x", FanOut: 1})

		assert.Equal(t, apperrors.ErrCodeInsufficientCredits, apperrors.GetCode(err))
	})
}

func TestStartRefinement(t *testing.T) {
	t.Run("creates single-task job targeting the index", func(t *testing.T) {
		f := newOrchestratorFixture()
		session := &model.Session{ID: testSessionID, SwatchURL: "https://cdn.test/swatches/a.png"}
		f.sessions.On("FindByID", mock.Anything, testSessionID).Return(session, nil)
		f.jobs.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreateJobParams) bool {
			return p.Kind == model.JobKindRefinement && p.TargetIndex != nil && *p.TargetIndex == 2
		})).Return(&model.Job{ID: testJobID, Status: model.JobStatusPending}, nil)
		f.client.On("CreateTask", mock.Anything, BuildRefinePrompt("shorter sleeves"),
			[]string{"https://cdn.test/generations/x.png", session.SwatchURL}).Return("task-r", nil)
		f.jobs.On("MarkProcessing", mock.Anything, testJobID, []string{"task-r"}).Return(true, nil)

		result, err := f.orch.StartRefinement(context.Background(), RefineRequest{
			SessionID: testSessionID,
			ImageURL:  "https://cdn.test/generations/x.png",
			Prompt:    "shorter sleeves",
			Index:     2,
		})

		require.NoError(t, err)
		assert.Equal(t, testJobID, result.JobID)
		require.NotNil(t, result.Index)
		assert.Equal(t, 2, *result.Index)
		f.assertExpectations(t)
	})

	t.Run("rejects index outside the grid", func(t *testing.T) {
		f := newOrchestratorFixture()

		_, err := f.orch.StartRefinement(context.Background(), RefineRequest{
			SessionID: testSessionID, ImageURL: "u", Prompt: "p", Index: 4,
		})

		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("requires image url", func(t *testing.T) {
		f := newOrchestratorFixture()

		_, err := f.orch.StartRefinement(context.Background(), RefineRequest{SessionID: testSessionID, Prompt: "p"})

		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("stores finished tasks and stays processing while others run", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0", "task-1")
		stored := []model.Image{{ID: "img-0", JobID: testJobID, URL: "https://cdn.test/generations/0.png", Seed: 0}}

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil).Once()
		f.client.On("GetTaskStatus", mock.Anything, "task-0").Return(successStatus("task-0", "https://vendor.test/0.png"), nil)
		f.client.On("GetTaskStatus", mock.Anything, "task-1").Return(&kie.TaskStatus{TaskID: "task-1", State: kie.TaskStatePending}, nil)
		f.rehoster.On("FetchAndRehost", mock.Anything, "https://vendor.test/0.png", storage.BucketGenerations, storage.GeneratedKey(testJobID, 0)).
			Return("https://cdn.test/generations/0.png")
		f.images.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.CreateImageParams) bool {
			return p.JobID == testJobID && p.Seed == 0 && p.URL == "https://cdn.test/generations/0.png" && p.ID != ""
		})).Return(true, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return(stored, nil).Once()
		f.publisher.On("Publish", mock.Anything, sse.JobTopic(testJobID), mock.MatchedBy(func(e sse.Event) bool {
			return e.Type == JobUpdatedEvent
		})).Return(nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, state.Status)
		assert.Equal(t, stored, state.Images)
		f.jobs.AssertNotCalled(t, "MarkCompleted", mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("completes once every slot has an image", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0", "task-1")
		first := []model.Image{{ID: "img-0", JobID: testJobID, URL: "a", Seed: 0}}
		both := append(first, model.Image{ID: "img-1", JobID: testJobID, URL: "b", Seed: 1})

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return(first, nil).Once()
		f.client.On("GetTaskStatus", mock.Anything, "task-1").Return(successStatus("task-1", "https://vendor.test/1.png"), nil)
		f.rehoster.On("FetchAndRehost", mock.Anything, "https://vendor.test/1.png", storage.BucketGenerations, storage.GeneratedKey(testJobID, 1)).Return("b")
		f.images.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return(both, nil).Once()
		f.jobs.On("MarkCompleted", mock.Anything, testJobID).Return(true, nil)
		f.publisher.On("Publish", mock.Anything, sse.JobTopic(testJobID), mock.Anything).Return(nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, state.Status)
		assert.Len(t, state.Images, 2)
		f.client.AssertNotCalled(t, "GetTaskStatus", mock.Anything, "task-0")
		f.assertExpectations(t)
	})

	t.Run("falls back to the vendor url when rehost fails", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0")
		vendorURL := "https://vendor.test/0.png"

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil).Once()
		f.client.On("GetTaskStatus", mock.Anything, "task-0").Return(successStatus("task-0", vendorURL), nil)
		f.rehoster.On("FetchAndRehost", mock.Anything, vendorURL, mock.Anything, mock.Anything).Return(vendorURL)
		f.images.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.CreateImageParams) bool {
			return p.URL == vendorURL
		})).Return(true, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).
			Return([]model.Image{{ID: "img-0", JobID: testJobID, URL: vendorURL, Seed: 0}}, nil).Once()
		f.jobs.On("MarkCompleted", mock.Anything, testJobID).Return(true, nil)
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, state.Status)
		assert.Equal(t, vendorURL, state.Images[0].URL)
		f.assertExpectations(t)
	})

	t.Run("refinement result lands at the target index", func(t *testing.T) {
		f := newOrchestratorFixture()
		target := 3
		job := processingJob("task-r")
		job.Kind = model.JobKindRefinement
		job.TargetIndex = &target

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil).Once()
		f.client.On("GetTaskStatus", mock.Anything, "task-r").Return(successStatus("task-r", "https://vendor.test/r.png"), nil)
		f.rehoster.On("FetchAndRehost", mock.Anything, "https://vendor.test/r.png", storage.BucketGenerations, storage.GeneratedKey(testJobID, 3)).Return("r")
		f.images.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.CreateImageParams) bool {
			return p.Seed == 3
		})).Return(true, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).
			Return([]model.Image{{ID: "img-r", JobID: testJobID, URL: "r", Seed: 3}}, nil).Once()
		f.jobs.On("MarkCompleted", mock.Anything, testJobID).Return(true, nil)
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, state.Status)
		assert.Equal(t, model.Seed(3), state.Images[0].Seed)
		f.assertExpectations(t)
	})

	t.Run("repeat call after another writer inserted creates nothing new", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0", "task-1")
		stored := []model.Image{{ID: "img-0", JobID: testJobID, URL: "a", Seed: 0}}

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil).Once()
		f.client.On("GetTaskStatus", mock.Anything, "task-0").Return(successStatus("task-0", "v0"), nil)
		f.client.On("GetTaskStatus", mock.Anything, "task-1").Return(&kie.TaskStatus{TaskID: "task-1", State: kie.TaskStatePending}, nil)
		f.rehoster.On("FetchAndRehost", mock.Anything, "v0", mock.Anything, mock.Anything).Return("a")
		f.images.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(false, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return(stored, nil).Once()

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, state.Status)
		assert.Len(t, state.Images, 1)
		f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("status lookup errors leave the slot open", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0")

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)
		f.client.On("GetTaskStatus", mock.Anything, "task-0").Return(nil, errors.New("timeout"))

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, state.Status)
		assert.Empty(t, state.Images)
		f.images.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
	})

	t.Run("failed remote task is not materialized", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0")

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)
		f.client.On("GetTaskStatus", mock.Anything, "task-0").
			Return(&kie.TaskStatus{TaskID: "task-0", State: kie.TaskStateFail, FailureMessage: "nsfw"}, nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, state.Status)
		f.rehoster.AssertNotCalled(t, "FetchAndRehost", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("terminal job returns stored state without polling", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0")
		job.Status = model.JobStatusFailed
		job.Error = strPtr("generation timed out")

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, state.Status)
		assert.Equal(t, "generation timed out", state.Error)
		f.client.AssertNotCalled(t, "GetTaskStatus", mock.Anything, mock.Anything)
	})

	t.Run("job past max age fails", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob("task-0")
		job.CreatedAt = time.Now().Add(-time.Hour)

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)
		f.client.On("GetTaskStatus", mock.Anything, "task-0").Return(&kie.TaskStatus{TaskID: "task-0", State: kie.TaskStatePending}, nil)
		f.jobs.On("MarkFailed", mock.Anything, testJobID, "generation timed out").Return(true, nil)
		f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, state.Status)
		assert.Equal(t, "generation timed out", state.Error)
		f.assertExpectations(t)
	})

	t.Run("pending job past max age fails without polling", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob()
		job.Status = model.JobStatusPending
		job.CreatedAt = time.Now().Add(-time.Hour)

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.jobs.On("MarkFailed", mock.Anything, testJobID, "generation timed out").Return(true, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)
		f.publisher.On("Publish", mock.Anything, "job:"+testJobID, mock.Anything).Return(nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, state.Status)
		assert.Equal(t, "generation timed out", state.Error)
		f.client.AssertNotCalled(t, "GetTaskStatus", mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})

	t.Run("fresh pending job is returned as stored", func(t *testing.T) {
		f := newOrchestratorFixture()
		job := processingJob()
		job.Status = model.JobStatusPending

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, state.Status)
		f.jobs.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		f := newOrchestratorFixture()
		f.jobs.On("FindByID", mock.Anything, testJobID).Return(nil, nil)

		_, err := f.orch.Reconcile(ctx, testJobID)

		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})

	t.Run("held lock returns stored state", func(t *testing.T) {
		f := newOrchestratorFixture()
		locker := new(mockLocker)
		f.orch.locker = locker
		job := processingJob("task-0")

		f.jobs.On("FindByID", mock.Anything, testJobID).Return(job, nil)
		locker.On("TryLock", mock.Anything, "reconcile:"+testJobID, time.Second).Return(nil, false, nil)
		f.images.On("FindByJobID", mock.Anything, testJobID).Return([]model.Image{}, nil)

		state, err := f.orch.Reconcile(ctx, testJobID)

		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, state.Status)
		f.client.AssertNotCalled(t, "GetTaskStatus", mock.Anything, mock.Anything)
		locker.AssertExpectations(t)
	})
}
