package service

import (
	"context"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/fabricviz/fabricviz-server/internal/database"
	"github.com/fabricviz/fabricviz-server/internal/kie"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/repository"
	"github.com/fabricviz/fabricviz-server/internal/sse"
	"github.com/fabricviz/fabricviz-server/internal/storage"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) UpdateSwatch(ctx context.Context, id string, swatchURL string) (*model.Session, error) {
	args := m.Called(ctx, id, swatchURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) UpdateSilhouette(ctx context.Context, id string, silhouetteURL string) (*model.Session, error) {
	args := m.Called(ctx, id, silhouetteURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Session), args.Error(1)
}

func (m *mockSessionRepo) UpdatePrompt(ctx context.Context, id string, params model.UpdateSessionPromptParams) error {
	args := m.Called(ctx, id, params)
	return args.Error(0)
}

func (m *mockSessionRepo) WithTx(_ *sqlx.Tx) repository.SessionRepository {
	return m
}

type mockJobRepo struct {
	mock.Mock
}

func (m *mockJobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Job), args.Error(1)
}

func (m *mockJobRepo) MarkProcessing(ctx context.Context, id string, taskIDs []string) (bool, error) {
	args := m.Called(ctx, id, taskIDs)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobRepo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobRepo) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	args := m.Called(ctx, id, reason)
	return args.Bool(0), args.Error(1)
}

func (m *mockJobRepo) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	args := m.Called(ctx, cutoff, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobRepo) WithTx(_ *sqlx.Tx) repository.JobRepository {
	return m
}

type mockImageRepo struct {
	mock.Mock
}

func (m *mockImageRepo) FindByJobID(ctx context.Context, jobID string) ([]model.Image, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Image), args.Error(1)
}

func (m *mockImageRepo) CountByJobID(ctx context.Context, jobID string) (int, error) {
	args := m.Called(ctx, jobID)
	return args.Int(0), args.Error(1)
}

func (m *mockImageRepo) CreateIfAbsent(ctx context.Context, params model.CreateImageParams) (bool, error) {
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}

type mockGenerationClient struct {
	mock.Mock
}

func (m *mockGenerationClient) CreateTask(ctx context.Context, prompt string, refs []string) (string, error) {
	args := m.Called(ctx, prompt, refs)
	return args.String(0), args.Error(1)
}

func (m *mockGenerationClient) GetTaskStatus(ctx context.Context, taskID string) (*kie.TaskStatus, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*kie.TaskStatus), args.Error(1)
}

type mockRehoster struct {
	mock.Mock
}

func (m *mockRehoster) FetchAndRehost(ctx context.Context, sourceURL, bucket, key string) string {
	args := m.Called(ctx, sourceURL, bucket, key)
	return args.String(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event sse.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	args := m.Called(ctx, key, ttl)
	release, _ := args.Get(0).(func())
	return release, args.Bool(1), args.Error(2)
}

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, bucket, key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockObjectStore) Fetch(ctx context.Context, url string) (*storage.Object, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Object), args.Error(1)
}

func (m *mockObjectStore) Open(ctx context.Context, url string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

// fakeTx runs the callback without a real transaction.
type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}
