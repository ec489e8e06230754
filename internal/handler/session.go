package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/fabricviz/fabricviz-server/internal/config"
	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
	"github.com/fabricviz/fabricviz-server/internal/middleware"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/service"
)

// multipartOverhead leaves room for form fields and boundaries on top of
// the file size limit.
const multipartOverhead = 64 << 10

type JobService interface {
	StartBatch(ctx context.Context, req service.BatchRequest) (*service.StartResult, error)
	StartRefinement(ctx context.Context, req service.RefineRequest) (*service.StartResult, error)
	Reconcile(ctx context.Context, jobID string) (*service.JobState, error)
}

type Uploader interface {
	Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error)
	UploadFromURL(ctx context.Context, sessionID string, kind model.ReferenceKind, sourceURL string) (*service.UploadResult, error)
}

type Archiver interface {
	Images(ctx context.Context, jobID string) ([]model.Image, error)
	WriteZip(ctx context.Context, w io.Writer, images []model.Image) (int, error)
}

type SessionHandlerOptions struct {
	MaxUploadBytes int64
	// RateLimit guards the endpoints that start remote generation.
	RateLimit func(http.Handler) http.Handler
}

type SessionHandler struct {
	jobs      JobService
	uploads   Uploader
	archives  Archiver
	events    http.Handler
	opts      SessionHandlerOptions
	jsonLimit *middleware.BodyLimitMiddleware
}

func NewSessionHandler(jobs JobService, uploads Uploader, archives Archiver, events http.Handler, opts SessionHandlerOptions) *SessionHandler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 8 << 20
	}
	return &SessionHandler{
		jobs:      jobs,
		uploads:   uploads,
		archives:  archives,
		events:    events,
		opts:      opts,
		jsonLimit: middleware.NewBodyLimitMiddleware(0),
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	if h.events != nil {
		r.Get("/job/{id}/events", h.events.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Post("/upload", h.Upload)
		r.Get("/job/{id}/status", h.JobStatus)
		r.Get("/job/{id}/archive", h.JobArchive)

		r.Group(func(r chi.Router) {
			r.Use(h.jsonLimit.Handler)
			r.Post("/upload-url", h.UploadURL)

			r.Group(func(r chi.Router) {
				if h.opts.RateLimit != nil {
					r.Use(h.opts.RateLimit)
				}
				r.Post("/generate", h.Generate)
				r.Post("/refine", h.Refine)
			})
		})
	})

	return r
}

type uploadResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// POST /api/session/upload
func (h *SessionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, apperrors.PayloadTooLarge(h.opts.MaxUploadBytes))
			return
		}
		writeError(w, apperrors.InvalidInput("body", "expected multipart form data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	kind := uploadKind(r)
	file, header, err := formFile(r, kind)
	if err != nil {
		writeError(w, apperrors.MissingRequired(string(kind)))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.opts.MaxUploadBytes+1))
	if err != nil {
		writeError(w, apperrors.InvalidInput(string(kind), "unreadable file"))
		return
	}
	if int64(len(data)) > h.opts.MaxUploadBytes {
		writeError(w, apperrors.PayloadTooLarge(h.opts.MaxUploadBytes))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	result, err := h.uploads.Upload(r.Context(), service.UploadRequest{
		SessionID:   r.FormValue("sessionId"),
		Kind:        kind,
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		h.logFailure(err, "upload failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{OK: true, SessionID: result.SessionID, URL: result.URL})
}

// uploadKind honours an explicit type field, otherwise infers it from which
// file field was sent.
func uploadKind(r *http.Request) model.ReferenceKind {
	if t := r.FormValue("type"); t != "" {
		return model.ParseReferenceKind(t)
	}
	if r.MultipartForm != nil && len(r.MultipartForm.File[string(model.ReferenceSilhouette)]) > 0 {
		return model.ReferenceSilhouette
	}
	return model.ReferenceSwatch
}

func formFile(r *http.Request, kind model.ReferenceKind) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(string(kind))
	if errors.Is(err, http.ErrMissingFile) {
		return r.FormFile("file")
	}
	return file, header, err
}

type uploadURLRequest struct {
	URL       string `json:"url" validate:"required,url"`
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
}

// POST /api/session/upload-url
func (h *SessionHandler) UploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.uploads.UploadFromURL(r.Context(), req.SessionID, model.ParseReferenceKind(req.Type), req.URL)
	if err != nil {
		h.logFailure(err, "upload from url failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{OK: true, SessionID: result.SessionID, URL: result.URL})
}

type generateRequest struct {
	SessionID      string           `json:"sessionId" validate:"required"`
	Prompt         string           `json:"prompt" validate:"required"`
	Options        *json.RawMessage `json:"options"`
	NumGenerations int              `json:"numGenerations" validate:"omitempty,min=1,max=4"`
}

type startResponse struct {
	OK    bool   `json:"ok"`
	JobID string `json:"jobId"`
	Index *int   `json:"index,omitempty"`
}

// POST /api/session/generate
func (h *SessionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.jobs.StartBatch(r.Context(), service.BatchRequest{
		SessionID: req.SessionID,
		Prompt:    req.Prompt,
		Options:   req.Options,
		FanOut:    req.NumGenerations,
	})
	if err != nil {
		h.logFailure(err, "generation start failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{OK: true, JobID: result.JobID})
}

type refineRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	ImageURL  string `json:"imageUrl" validate:"required,url"`
	Prompt    string `json:"prompt" validate:"required"`
	Index     *int   `json:"index" validate:"required,min=0,max=3"`
}

// POST /api/session/refine
func (h *SessionHandler) Refine(w http.ResponseWriter, r *http.Request) {
	var req refineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.jobs.StartRefinement(r.Context(), service.RefineRequest{
		SessionID: req.SessionID,
		ImageURL:  req.ImageURL,
		Prompt:    req.Prompt,
		Index:     *req.Index,
	})
	if err != nil {
		h.logFailure(err, "refinement start failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{OK: true, JobID: result.JobID, Index: result.Index})
}

// GET /api/session/job/{id}/status
func (h *SessionHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.jobs.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(err, "job status failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// GET /api/session/job/{id}/archive
func (h *SessionHandler) JobArchive(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	images, err := h.archives.Images(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="fabricviz-%s.zip"`, jobID))
	w.WriteHeader(http.StatusOK)

	n, err := h.archives.WriteZip(r.Context(), w, images)
	if err != nil {
		log.Error().Err(err).Str("jobId", jobID).Int("written", n).Msg("archive stream aborted")
		return
	}
	log.Info().Str("jobId", jobID).Int("images", n).Msg("archive served")
}

func (h *SessionHandler) logFailure(err error, msg string) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeInternal, apperrors.ErrCodeDatabase, apperrors.ErrCodeRemoteService, apperrors.ErrCodeStorage:
		log.Error().Err(err).Msg(msg)
	default:
		log.Debug().Err(err).Msg(msg)
	}
}
