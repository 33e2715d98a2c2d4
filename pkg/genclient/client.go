// Package genclient is a small Go client for the generation API. It drives a
// job the same way the web client does: submit over the NDJSON stream, then
// poll the status endpoint until the task settles.
package genclient

import (
	"bufio"
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

const (
	// DefaultPollInterval is the pause between status probes.
	DefaultPollInterval = 2 * time.Second
	// DefaultMaxAttempts caps polling at ten minutes on the default interval.
	DefaultMaxAttempts = 300

	accessKeyHeader = "X-Access-Key"
)

// ErrPollTimeout is returned when the attempt cap is reached before the task
// settles.
var ErrPollTimeout = errors.New("generation polling timed out")

// Options configures a Client.
type Options struct {
	BaseURL   string
	AccessKey string

	HTTPClient   *http.Client
	PollInterval time.Duration
	MaxAttempts  int
}

// Client talks to one generation API server.
type Client struct {
	baseURL      string
	accessKey    string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
}

// New builds a Client. BaseURL is required.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("genclient: BaseURL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No client-wide timeout: the submit stream stays open for the
		// duration of the vendor call.
		httpClient = &http.Client{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		accessKey:    opts.AccessKey,
		httpClient:   httpClient,
		pollInterval: interval,
		maxAttempts:  attempts,
	}, nil
}

// SubmitRequest is one generation job.
type SubmitRequest struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model,omitempty"`
	AspectRatio string   `json:"aspectRatio,omitempty"`
	ImageSize   string   `json:"imageSize,omitempty"`
	Images      []string `json:"images,omitempty"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Submit starts a generation job and returns its task id. Progress lines from
// the server stream are handed to onLog as they arrive; onLog may be nil.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, onLog func(string)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	resp, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "log":
			if onLog != nil {
				onLog(ev.Message)
			}
		case "error":
			return "", fmt.Errorf("generation failed: %s", ev.Message)
		case "result":
			return ev.TaskID, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return "", errors.New("stream ended without a task id")
}

// Result is one generated artifact.
type Result struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Snapshot is one status observation.
type Snapshot struct {
	ID            string   `json:"id"`
	Results       []Result `json:"results"`
	Progress      int      `json:"progress"`
	Status        string   `json:"status"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Poll probes the task status until it settles, one probe in flight at a
// time. It returns the first result URL on success, the server's failure
// reason on failure, and ErrPollTimeout when the attempt cap is reached.
// onProgress may be nil.
func (c *Client) Poll(ctx context.Context, taskID string, onProgress func(int)) (string, error) {
	body, err := json.Marshal(map[string]string{"taskId": taskID})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.pollInterval):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		snap, err := c.fetchStatus(ctx, body)
		if err != nil {
			// A transient probe failure burns the attempt, not the job.
			continue
		}
		if onProgress != nil {
			onProgress(snap.Progress)
		}
		switch snap.Status {
		case "succeeded":
			if len(snap.Results) == 0 {
				return "", errors.New("task succeeded without results")
			}
			return snap.Results[0].URL, nil
		case "failed":
			reason := snap.FailureReason
			if reason == "" {
				reason = snap.Error
			}
			if reason == "" {
				reason = "generation failed"
			}
			return "", errors.New(reason)
		}
	}
	return "", ErrPollTimeout
}

func (c *Client) fetchStatus(ctx context.Context, body []byte) (*Snapshot, error) {
	resp, err := c.post(ctx, "/api/generate/status", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// HistoryItem is one finished generation record.
type HistoryItem struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	CreatedAt int64  `json:"createdAt"`
}

// History lists the most recent finished generations.
func (c *Client) History(ctx context.Context) ([]HistoryItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/history", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(accessKeyHeader, c.accessKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var items []HistoryItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return items, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessKeyHeader, c.accessKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call api: %w", err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("api status %d", resp.StatusCode)
	}
	return fmt.Errorf("api status %d: %s", resp.StatusCode, msg)
}
