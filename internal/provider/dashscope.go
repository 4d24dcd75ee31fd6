package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrMissingAPIKey indicates the client was configured without credentials.
var ErrMissingAPIKey = errors.New("dashscope: api key is required")

const (
	defaultDashScopeBaseURL = "https://dashscope.aliyuncs.com"
	defaultDashScopeModel   = "wan2.6-i2v"

	// Transient poll faults are retried this many times with a fixed pause
	// before Poll gives up with a *PollError.
	pollAttempts = 3
	pollBackoff  = 2 * time.Second
)

// DashScopeOptions configures the DashScope video-synthesis client.
type DashScopeOptions struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// Backoff overrides the pause between poll retries; tests shorten it.
	Backoff time.Duration
}

// DashScope drives the asynchronous video-synthesis API: one POST submits a
// job and returns a vendor task id, then GET /tasks/{id} reports progress.
type DashScope struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	backoff    time.Duration
}

var _ Client = (*DashScope)(nil)

// NewDashScope constructs a client with sane defaults.
func NewDashScope(opts DashScopeOptions) (*DashScope, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultDashScopeBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultDashScopeModel
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = pollBackoff
	}
	return &DashScope{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		backoff:    backoff,
	}, nil
}

type synthesisRequest struct {
	Model string         `json:"model"`
	Input synthesisInput `json:"input"`
}

type synthesisInput struct {
	Prompt   string `json:"prompt,omitempty"`
	ImageURL string `json:"img_url,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

type synthesisResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url"`
		Message    string `json:"message"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Submit performs one outbound call. It never retries; the caller decides
// whether a failed submission is worth a whole new reservation cycle.
func (c *DashScope) Submit(ctx context.Context, spec GenerationSpec) (JobRef, error) {
	model := strings.TrimSpace(spec.Model)
	if model == "" {
		model = c.model
	}
	if strings.TrimSpace(spec.Prompt) == "" && strings.TrimSpace(spec.ImageURL) == "" {
		return "", &SubmitError{Err: errors.New("prompt or image url is required")}
	}
	payload := synthesisRequest{
		Model: model,
		Input: synthesisInput{
			Prompt:   spec.Prompt,
			ImageURL: spec.ImageURL,
			Duration: spec.Duration,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmitError{Err: fmt.Errorf("encode request: %w", err)}
	}
	endpoint := c.baseURL + "/api/v1/services/aigc/video-generation/video-synthesis"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-DashScope-Async", "enable")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	defer resp.Body.Close()

	decoded, err := decodeSynthesisResponse(resp)
	if err != nil {
		return "", &SubmitError{Err: err}
	}
	if decoded.Output.TaskID == "" {
		return "", &SubmitError{Err: errors.New("response missing task_id")}
	}
	return JobRef(decoded.Output.TaskID), nil
}

// Poll checks job status, absorbing transient faults up to the retry budget.
// A FAILED task_status is returned as data, not as an error: it is the
// vendor's terminal verdict and is never retried here.
func (c *DashScope) Poll(ctx context.Context, ref JobRef) (*Status, error) {
	var lastErr error
	for attempt := 0; attempt < pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return nil, &PollError{Err: ctx.Err()}
			}
		}
		status, err := c.pollOnce(ctx, ref)
		if err == nil {
			return status, nil
		}
		if ctx.Err() != nil {
			return nil, &PollError{Err: ctx.Err()}
		}
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.code >= 400 && statusErr.code < 500 {
			// The vendor rejected the request itself; retrying the same call
			// cannot change the answer.
			return nil, &PollError{Err: err, Permanent: true}
		}
		lastErr = err
	}
	return nil, &PollError{Err: lastErr}
}

func (c *DashScope) pollOnce(ctx context.Context, ref JobRef) (*Status, error) {
	endpoint := fmt.Sprintf("%s/api/v1/tasks/%s", c.baseURL, string(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	decoded, err := decodeSynthesisResponse(resp)
	if err != nil {
		return nil, err
	}
	return &Status{
		State:     mapTaskStatus(decoded.Output.TaskStatus),
		ResultURL: decoded.Output.VideoURL,
		Message:   firstNonEmpty(decoded.Output.Message, decoded.Message),
	}, nil
}

// httpStatusError carries the response status so Poll can separate
// client-class rejections from transient server faults.
type httpStatusError struct {
	code int
	msg  string
}

func (e *httpStatusError) Error() string { return e.msg }

func decodeSynthesisResponse(resp *http.Response) (*synthesisResponse, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail synthesisResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, &httpStatusError{code: resp.StatusCode, msg: fmt.Sprintf("status %d: %s (%s)", resp.StatusCode, detail.Message, detail.Code)}
		}
		return nil, &httpStatusError{code: resp.StatusCode, msg: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))}
	}
	var decoded synthesisResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}

func mapTaskStatus(s string) JobState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCEEDED":
		return StateSucceeded
	case "FAILED", "CANCELED":
		return StateFailed
	case "RUNNING":
		return StateRunning
	default:
		return StateSubmitted
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
