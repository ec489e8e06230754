package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/repository"
	"github.com/fabricviz/fabricviz-server/internal/storage"
)

type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
	Fetch(ctx context.Context, url string) (*storage.Object, error)
}

type UploadRequest struct {
	SessionID   string
	Kind        model.ReferenceKind
	Filename    string
	ContentType string
	Data        []byte
}

type UploadResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// UploadService stores reference images and attaches them to a session.
type UploadService struct {
	sessionRepo repository.SessionRepository
	store       ObjectStore
	now         func() time.Time
}

func NewUploadService(sessionRepo repository.SessionRepository, store ObjectStore) *UploadService {
	return &UploadService{
		sessionRepo: sessionRepo,
		store:       store,
		now:         time.Now,
	}
}

func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if len(req.Data) == 0 {
		return nil, apperrors.MissingRequired("file")
	}
	if req.Kind == "" {
		req.Kind = model.ReferenceSwatch
	}

	if req.SessionID != "" {
		if err := s.requireSession(ctx, req.SessionID); err != nil {
			return nil, err
		}
	}

	key := storage.UploadKey(s.now(), req.Filename)
	publicURL, err := s.store.Put(ctx, req.Kind.Bucket(), key, req.Data, req.ContentType)
	if err != nil {
		return nil, apperrors.Storage("Failed to store upload", err)
	}

	sessionID, err := s.attach(ctx, req.SessionID, req.Kind, publicURL)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", sessionID).
		Str("kind", string(req.Kind)).
		Str("key", key).
		Int("size", len(req.Data)).
		Msg("reference image uploaded")

	return &UploadResult{SessionID: sessionID, URL: publicURL}, nil
}

// UploadFromURL downloads a remote image and stores it like a direct upload.
func (s *UploadService) UploadFromURL(ctx context.Context, sessionID string, kind model.ReferenceKind, sourceURL string) (*UploadResult, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, apperrors.InvalidInput("url", "must be an absolute http(s) URL")
	}

	obj, err := s.store.Fetch(ctx, sourceURL)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, apperrors.New(apperrors.ErrCodePayloadTooLarge, "Remote image is too large")
		}
		return nil, apperrors.RemoteService("Failed to fetch image", err)
	}

	return s.Upload(ctx, UploadRequest{
		SessionID:   sessionID,
		Kind:        kind,
		Filename:    storage.BaseNameFromURL(parsed.Path, storage.DefaultFilename),
		ContentType: obj.ContentType,
		Data:        obj.Data,
	})
}

func (s *UploadService) requireSession(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NotFound("Session")
	}
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}
	return nil
}

func (s *UploadService) attach(ctx context.Context, sessionID string, kind model.ReferenceKind, publicURL string) (string, error) {
	if sessionID == "" {
		params := model.CreateSessionParams{ID: uuid.NewString()}
		if kind == model.ReferenceSilhouette {
			params.SilhouetteURL = &publicURL
		} else {
			params.SwatchURL = publicURL
		}
		session, err := s.sessionRepo.Create(ctx, params)
		if err != nil {
			return "", apperrors.Database(err)
		}
		return session.ID, nil
	}

	var session *model.Session
	var err error
	if kind == model.ReferenceSilhouette {
		session, err = s.sessionRepo.UpdateSilhouette(ctx, sessionID, publicURL)
	} else {
		session, err = s.sessionRepo.UpdateSwatch(ctx, sessionID, publicURL)
	}
	if err != nil {
		return "", apperrors.Database(err)
	}
	if session == nil {
		return "", apperrors.NotFound("Session")
	}
	return session.ID, nil
}
