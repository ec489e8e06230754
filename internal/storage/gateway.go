package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const (
	defaultContentType   = "application/octet-stream"
	generatedContentType = "image/png"
)

var ErrTooLarge = errors.New("storage: object exceeds size limit")

// ObjectPutter is the subset of the S3 API the gateway writes through.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object is a fetched remote blob.
type Object struct {
	Data        []byte
	ContentType string
}

type GatewayOptions struct {
	PublicBaseURL string
	HTTPClient    *http.Client
	MaxFetchBytes int64
}

// Gateway stores blobs in an S3-compatible object store and fetches remote
// URLs for re-hosting.
type Gateway struct {
	client        ObjectPutter
	publicBaseURL string
	http          *http.Client
	maxFetchBytes int64
}

func NewGateway(client ObjectPutter, opts GatewayOptions) *Gateway {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxFetch := opts.MaxFetchBytes
	if maxFetch <= 0 {
		maxFetch = 25 << 20
	}
	return &Gateway{
		client:        client,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		http:          httpClient,
		maxFetchBytes: maxFetch,
	}
}

// Put writes data under bucket/key, overwriting any existing object, and
// returns its public URL.
func (g *Gateway) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = defaultContentType
	}

	start := time.Now()
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("bucket", bucket).
			Str("key", key).
			Msg("object upload failed")
		return "", fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("object stored")

	return g.PublicURL(bucket, key), nil
}

func (g *Gateway) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", g.publicBaseURL, bucket, key)
}

// Open starts a GET on a remote http(s) URL. The caller closes the body.
func (g *Gateway) Open(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, "", fmt.Errorf("invalid source url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", parsed.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch %s: status %d", parsed.Host, resp.StatusCode)
	}

	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// Fetch downloads a remote URL into memory, bounded by the gateway's limit.
func (g *Gateway) Fetch(ctx context.Context, rawURL string) (*Object, error) {
	body, contentType, err := g.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, g.maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > g.maxFetchBytes {
		return nil, ErrTooLarge
	}

	return &Object{Data: data, ContentType: contentType}, nil
}

// FetchAndRehost copies sourceURL into bucket/key and returns the stored
// object's URL. Any failure returns sourceURL unchanged.
func (g *Gateway) FetchAndRehost(ctx context.Context, sourceURL, bucket, key string) string {
	obj, err := g.Fetch(ctx, sourceURL)
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rehost download failed, keeping source url")
		return sourceURL
	}

	publicURL, err := g.Put(ctx, bucket, key, obj.Data, generatedContentType)
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("rehost upload failed, keeping source url")
		return sourceURL
	}

	return publicURL
}
