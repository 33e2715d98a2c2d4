package grsai

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

	"github.com/rs/zerolog"

	"studio/internal/domain"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("grsai: api key is required")

// Mode selects the submission protocol. The vendor API has used both styles;
// one client supports either so a migration tolerates both.
type Mode string

const (
	// ModePoll submits and returns a task id immediately; status is fetched
	// separately by id.
	ModePoll Mode = "poll"
	// ModeStream blocks on an inline stream of newline-delimited snapshots
	// over the submission connection.
	ModeStream Mode = "stream"
)

// ArtifactStore persists binary stream payloads; satisfied by storage.ObjectStore.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Options configures the generation backend client.
type Options struct {
	APIKey         string
	BaseURL        string
	Mode           Mode
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	Store          ArtifactStore
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the generation vendor API. It carries no
// retry logic; retries belong to the orchestration layer.
type Client struct {
	apiKey     string
	baseURL    string
	mode       Mode
	httpClient *http.Client
	logger     zerolog.Logger
	store      ArtifactStore
	now        func() time.Time
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.grsai.com"
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModePoll
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		mode:       mode,
		httpClient: httpClient,
		logger:     logger,
		store:      opts.Store,
		now:        time.Now,
	}, nil
}

// Mode returns the configured submission protocol.
func (c *Client) Mode() Mode {
	return c.mode
}

// Submit sends one generation request. Defaults are applied to model, aspect
// ratio and image size before the call.
func (c *Client) Submit(ctx context.Context, req DrawRequest) (*SubmitResult, error) {
	req.Model = string(domain.NormalizeModel(req.Model))
	req.AspectRatio = domain.NormalizeAspectRatio(req.AspectRatio)
	req.ImageSize = domain.NormalizeImageSize(req.ImageSize)
	if req.URLs == nil {
		req.URLs = []string{}
	}
	if c.mode == ModePoll {
		// Fixed sentinel selecting polling mode on the vendor side.
		req.WebHook = "-1"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("grsai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/draw/nano-banana", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("grsai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendSubmission, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrBackendSubmission, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if c.mode == ModeStream {
		return c.consumeStream(ctx, resp)
	}
	return c.parseSubmitResponse(resp)
}

// parseSubmitResponse extracts the task id from an async-by-id submission.
func (c *Client) parseSubmitResponse(resp *http.Response) (*SubmitResult, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("grsai: read response: %w", err)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("grsai: decode response: %w", err)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("%w: no task id in response: %s", domain.ErrBackendSubmission, strings.TrimSpace(string(raw)))
	}
	return &SubmitResult{TaskID: snap.ID}, nil
}

// consumeStream reads newline-delimited JSON snapshots until a terminal one
// arrives. A binary payload on the same connection is the final artifact
// itself and is persisted under a synthesized key.
func (c *Client) consumeStream(ctx context.Context, resp *http.Response) (*SubmitResult, error) {
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		return c.persistBinaryArtifact(ctx, resp.Body, ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var last *Snapshot
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// SSE-style framing prefixes data lines.
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		snap, err := decodeSnapshot(line)
		if err != nil {
			c.logger.Warn().Err(err).Str("line", string(line)).Msg("grsai: skipping malformed stream line")
			continue
		}
		last = snap
		switch snap.NormalizedStatus() {
		case domain.TaskStatusSucceeded:
			urls := make([]string, 0, len(snap.Results))
			for _, r := range snap.Results {
				if r.URL != "" {
					urls = append(urls, r.URL)
				}
			}
			if len(urls) == 0 {
				return nil, fmt.Errorf("%w: succeeded with no results", domain.ErrBackendSubmission)
			}
			return &SubmitResult{TaskID: c.taskIDOrSynthesized(snap.ID), ResultURLs: urls, Final: true}, nil
		case domain.TaskStatusFailed:
			return nil, fmt.Errorf("%w: %s", domain.ErrBackendFailure, snap.FailureMessage())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read stream: %v", domain.ErrBackendSubmission, err)
	}
	if last != nil {
		return nil, fmt.Errorf("%w: stream ended in status %q", domain.ErrBackendSubmission, last.Status)
	}
	return nil, fmt.Errorf("%w: empty stream", domain.ErrBackendSubmission)
}

// persistBinaryArtifact relays an inline image payload into the object store
// and returns its URL as the final result.
func (c *Client) persistBinaryArtifact(ctx context.Context, body io.Reader, contentType string) (*SubmitResult, error) {
	if c.store == nil {
		return nil, fmt.Errorf("%w: binary stream payload without an artifact store", domain.ErrBackendSubmission)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("grsai: read artifact: %w", err)
	}
	taskID := c.taskIDOrSynthesized("")
	key := fmt.Sprintf("generations/%s/%s%s", c.now().UTC().Format("2006-01-02"), taskID, extensionFor(contentType))
	url, err := c.store.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("grsai: persist artifact: %w", err)
	}
	return &SubmitResult{TaskID: taskID, ResultURLs: []string{url}, Final: true}, nil
}

// FetchStatus returns the latest snapshot for a task id. A terminal failed
// snapshot is returned, not converted to an error; interpretation belongs to
// the caller.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (*Snapshot, error) {
	payload, err := json.Marshal(map[string]string{"id": taskID})
	if err != nil {
		return nil, fmt.Errorf("grsai: encode status request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/draw/result", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("grsai: build status request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("grsai: status request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("grsai: read status response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("grsai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("grsai: decode status response: %w", err)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("grsai: unexpected status response: %s", strings.TrimSpace(string(raw)))
	}
	return snap, nil
}

// taskIDOrSynthesized falls back to a timestamp-based id when the vendor
// supplies none.
func (c *Client) taskIDOrSynthesized(id string) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("gen-%d", c.now().UnixNano())
}

// decodeSnapshot unwraps the optional {"data": {...}} envelope the vendor has
// used in some API revisions.
func decodeSnapshot(raw []byte) (*Snapshot, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		raw = envelope.Data
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
