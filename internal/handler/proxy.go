package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/fabricviz/fabricviz-server/internal/errors"
)

type RemoteOpener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// ProxyHandler streams a remote image through this origin so the browser
// can read it without CORS on the remote host.
type ProxyHandler struct {
	opener RemoteOpener
}

func NewProxyHandler(opener RemoteOpener) *ProxyHandler {
	return &ProxyHandler{opener: opener}
}

// GET /api/proxy-image?url=
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, apperrors.MissingRequired("url"))
		return
	}

	body, contentType, err := h.opener.Open(r.Context(), target)
	if err != nil {
		log.Warn().Err(err).Str("url", target).Msg("proxy fetch failed")
		writeError(w, apperrors.RemoteService("Failed to fetch image", err))
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		log.Debug().Err(err).Str("url", target).Msg("proxy stream interrupted")
	}
}
