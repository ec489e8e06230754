package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://api.kie.ai/api/v1/jobs"
	DefaultModel   = "nano-banana-pro"
	DefaultTimeout = 30 * time.Second

	aspectRatio  = "3:4"
	resolution   = "1K"
	outputFormat = "png"

	maxErrorBody = 4 << 10
)

// Options configures the remote generation client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the kie.ai jobs API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
		http:    httpClient,
	}
}

// CreateTask submits a generation. refs[0] is the primary reference image.
func (c *Client) CreateTask(ctx context.Context, prompt string, refs []string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if len(refs) == 0 || refs[0] == "" {
		return "", errors.New("kie: at least one reference image is required")
	}

	body, err := json.Marshal(createTaskRequest{
		Model: c.model,
		Input: createTaskInput{
			Prompt:       prompt,
			ImageInput:   refs,
			AspectRatio:  aspectRatio,
			Resolution:   resolution,
			OutputFormat: outputFormat,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/createTask", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out envelope[createTaskData]
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Data.TaskID == "" {
		return "", &APIError{StatusCode: http.StatusOK, Code: out.Code, Message: "response missing taskId"}
	}

	log.Debug().
		Str("taskId", out.Data.TaskID).
		Int("referenceCount", len(refs)).
		Msg("kie task created")

	return out.Data.TaskID, nil
}

// GetTaskStatus fetches and normalizes the state of a task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	endpoint := c.baseURL + "/recordInfo?" + url.Values{"taskId": {taskID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var out envelope[recordInfoData]
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	return parseRecordInfo(taskID, out.Data)
}

func (c *Client) do(req *http.Request, out interface{ code() (int, string) }) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("path", req.URL.Path).
			Dur("elapsed", elapsed).
			Msg("kie request error")
		return fmt.Errorf("kie request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env envelope[json.RawMessage]
		if json.Unmarshal(raw, &env) == nil && env.Msg != "" {
			apiErr.Code = env.Code
			apiErr.Message = env.Msg
		}
		log.Error().
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("kie request failed")
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode kie response: %w", err)
	}

	if code, msg := out.code(); code != http.StatusOK {
		log.Warn().
			Str("path", req.URL.Path).
			Int("code", code).
			Str("msg", msg).
			Dur("elapsed", elapsed).
			Msg("kie returned error code")
		return &APIError{StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	return nil
}

func (e *envelope[T]) code() (int, string) {
	return e.Code, e.Msg
}
