package handler

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/service"
	"github.com/fabricviz/fabricviz-server/internal/sse"
)

type mockJobService struct {
	mock.Mock
}

func (m *mockJobService) StartBatch(ctx context.Context, req service.BatchRequest) (*service.StartResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StartResult), args.Error(1)
}

func (m *mockJobService) StartRefinement(ctx context.Context, req service.RefineRequest) (*service.StartResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.StartResult), args.Error(1)
}

func (m *mockJobService) Reconcile(ctx context.Context, jobID string) (*service.JobState, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.JobState), args.Error(1)
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UploadResult), args.Error(1)
}

func (m *mockUploader) UploadFromURL(ctx context.Context, sessionID string, kind model.ReferenceKind, sourceURL string) (*service.UploadResult, error) {
	args := m.Called(ctx, sessionID, kind, sourceURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.UploadResult), args.Error(1)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Images(ctx context.Context, jobID string) ([]model.Image, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Image), args.Error(1)
}

func (m *mockArchiver) WriteZip(ctx context.Context, w io.Writer, images []model.Image) (int, error) {
	args := m.Called(ctx, w, images)
	if payload, ok := args.Get(2).(string); ok {
		io.WriteString(w, payload)
	}
	return args.Int(0), args.Error(1)
}

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) Open(ctx context.Context, url string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

// localBroker hands out buffered clients without Redis.
type localBroker struct {
	client       *sse.Client
	unsubscribed bool
}

func (b *localBroker) Subscribe(topic string) *sse.Client {
	if b.client == nil {
		b.client = &sse.Client{Topic: topic, Events: make(chan sse.Event, 4), Done: make(chan struct{})}
	}
	b.client.Topic = topic
	return b.client
}

func (b *localBroker) Unsubscribe(_ *sse.Client) {
	b.unsubscribed = true
}
