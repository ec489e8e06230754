package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/fabricviz/fabricviz-server/internal/model"
)

const (
	// DefaultFilename replaces names that sanitize to nothing.
	DefaultFilename = "uploaded_image"

	BucketGenerations = "generations"
)

var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "gif": true, "heic": true, "pdf": true,
}

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	disallowedChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]`)
	underscoreRun   = regexp.MustCompile(`_{2,}`)
)

// SanitizeFilename turns a user-supplied name into a storage-safe key.
// A trailing extension survives only if it is on the allow-list.
func SanitizeFilename(name string) string {
	base, ext := name, ""
	if i := strings.LastIndex(name, "."); i >= 0 && allowedExtensions[strings.ToLower(name[i+1:])] {
		base, ext = name[:i], name[i+1:]
	}

	base = whitespaceRun.ReplaceAllString(base, "_")
	base = disallowedChars.ReplaceAllString(base, "_")
	base = underscoreRun.ReplaceAllString(base, "_")
	base = strings.TrimPrefix(base, "_")
	base = strings.TrimSuffix(base, "_")

	result := base
	if ext != "" {
		result = base + "." + ext
	}
	if result == "" {
		return DefaultFilename
	}
	return result
}

// UploadKey prefixes the sanitized name with a millisecond timestamp.
func UploadKey(now time.Time, name string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), SanitizeFilename(name))
}

// GeneratedKey is the deterministic re-host location for a job slot, so
// repeated re-hosting of the same slot overwrites one object.
func GeneratedKey(jobID string, seed model.Seed) string {
	return fmt.Sprintf("generated/%s_%d.png", jobID, seed.Int())
}

// BaseNameFromURL returns the last path element of a URL path, or fallback.
func BaseNameFromURL(urlPath, fallback string) string {
	base := path.Base(urlPath)
	if base == "." || base == "/" || base == "" {
		return fallback
	}
	return base
}
