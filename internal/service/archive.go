package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"

	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
	"github.com/fabricviz/fabricviz-server/internal/model"
	"github.com/fabricviz/fabricviz-server/internal/repository"
)

type ImageOpener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// ArchiveService bundles a job's images into a zip download.
type ArchiveService struct {
	jobRepo   repository.JobRepository
	imageRepo repository.ImageRepository
	opener    ImageOpener
}

func NewArchiveService(jobRepo repository.JobRepository, imageRepo repository.ImageRepository, opener ImageOpener) *ArchiveService {
	return &ArchiveService{
		jobRepo:   jobRepo,
		imageRepo: imageRepo,
		opener:    opener,
	}
}

// ArchiveName is the zip entry name for the image at seed.
func ArchiveName(seed model.Seed) string {
	return fmt.Sprintf("fabricviz-%s.png", seed.Label())
}

// Images returns the images to archive. It fails before anything is written
// so callers can still report an error status.
func (s *ArchiveService) Images(ctx context.Context, jobID string) ([]model.Image, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperrors.NotFound("Job")
	}
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if job == nil {
		return nil, apperrors.NotFound("Job")
	}

	images, err := s.imageRepo.FindByJobID(ctx, job.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(images) == 0 {
		return nil, apperrors.NotFound("Images")
	}
	return images, nil
}

// WriteZip streams images into w. Images that cannot be downloaded are
// skipped; the number written is returned.
func (s *ArchiveService) WriteZip(ctx context.Context, w io.Writer, images []model.Image) (int, error) {
	zw := zip.NewWriter(w)
	written := 0

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		body, _, err := s.opener.Open(ctx, img.URL)
		if err != nil {
			log.Warn().
				Err(err).
				Str("jobId", img.JobID).
				Int("seed", img.Seed.Int()).
				Msg("skipping image in archive")
			continue
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     ArchiveName(img.Seed),
			Method:   zip.Deflate,
			Modified: img.CreatedAt,
		})
		if err != nil {
			body.Close()
			return written, fmt.Errorf("create zip entry: %w", err)
		}
		_, err = io.Copy(entry, body)
		body.Close()
		if err != nil {
			return written, fmt.Errorf("write zip entry: %w", err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("close zip: %w", err)
	}
	return written, nil
}
