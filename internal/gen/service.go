package gen

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/providers/grsai"
	"studio/internal/storage"
	"studio/pkg/zip"
)

const (
	defaultSubmitAttempts = 3
	defaultSubmitBackoff  = 2 * time.Second
	persistTimeout        = 10 * time.Second
	historyLimit          = 20
)

// Backend is the narrow contract the orchestrator requires from the
// generation vendor client.
type Backend interface {
	Submit(ctx context.Context, req grsai.DrawRequest) (*grsai.SubmitResult, error)
	FetchStatus(ctx context.Context, taskID string) (*grsai.Snapshot, error)
}

// Options wires the orchestration service.
type Options struct {
	Backend    Backend
	Store      storage.ObjectStore
	Repo       domain.GenerationRepository // nil degrades record writes to logged no-ops
	HTTPClient *http.Client
	Logger     zerolog.Logger

	// SubmitAttempts and SubmitBackoff tune the capped linear retry policy;
	// zero values take the defaults (3 attempts, 2s fixed backoff).
	SubmitAttempts int
	SubmitBackoff  time.Duration
}

// Service bridges a long-running vendor generation job to a
// synchronous-feeling caller: it validates input, stages conditioning images
// in the object store, submits with bounded retries while relaying progress,
// and promotes finished results into internal storage.
type Service struct {
	backend    Backend
	store      storage.ObjectStore
	repo       domain.GenerationRepository
	httpClient *http.Client
	logger     zerolog.Logger
	attempts   int
	backoff    time.Duration
	now        func() time.Time

	// background tracks fire-and-forget record writes so shutdown and tests
	// can wait for them; their failures never reach the request path.
	background sync.WaitGroup
}

// NewService constructs the orchestrator.
func NewService(opts Options) *Service {
	attempts := opts.SubmitAttempts
	if attempts <= 0 {
		attempts = defaultSubmitAttempts
	}
	backoff := opts.SubmitBackoff
	if backoff <= 0 {
		backoff = defaultSubmitBackoff
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Service{
		backend:    opts.Backend,
		store:      opts.Store,
		repo:       opts.Repo,
		httpClient: httpClient,
		logger:     opts.Logger,
		attempts:   attempts,
		backoff:    backoff,
		now:        time.Now,
	}
}

// GenerateInput is one caller-supplied generation request. Images are base64
// data URLs used as conditioning input.
type GenerateInput struct {
	Prompt      string   `json:"prompt"`
	Model       string   `json:"model"`
	AspectRatio string   `json:"aspectRatio"`
	ImageSize   string   `json:"imageSize"`
	Images      []string `json:"images"`
}

// Validate enforces the request contract; it runs before any external call.
func (in GenerateInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return domain.ErrInvalidPrompt
	}
	return nil
}

// dataURLPattern matches "data:<mime>;base64,<payload>".
var dataURLPattern = regexp.MustCompile(`^data:([A-Za-z0-9.+/-]+);base64,(.+)$`)

type decodedImage struct {
	data        []byte
	contentType string
}

// Generate runs one request end to end: upload conditioning images, submit
// with capped linear retries, relay progress to the sink, and hand the task
// id to the caller. Every life-cycle event, including the terminal error,
// goes through the sink.
func (s *Service) Generate(ctx context.Context, in GenerateInput, emit Sink) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	model := domain.NormalizeModel(in.Model)

	urls, err := s.stageInputImages(ctx, in.Images, emit)
	if err != nil {
		emit(errorEvent(err.Error()))
		return "", err
	}

	var res *grsai.SubmitResult
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		emit(logEvent(fmt.Sprintf("Submitting generation job (attempt %d/%d)", attempt, s.attempts)))
		res, lastErr = s.backend.Submit(ctx, grsai.DrawRequest{
			Model:       string(model),
			Prompt:      in.Prompt,
			AspectRatio: in.AspectRatio,
			ImageSize:   in.ImageSize,
			URLs:        urls,
		})
		if lastErr == nil {
			break
		}
		if attempt < s.attempts {
			emit(logEvent(fmt.Sprintf("Submission failed: %v; retrying in %s", lastErr, s.backoff)))
			select {
			case <-time.After(s.backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if lastErr != nil {
		wrapped := fmt.Errorf("submit generation after %d attempts: %w", s.attempts, lastErr)
		emit(errorEvent(wrapped.Error()))
		return "", wrapped
	}

	status := domain.TaskStatusPending
	resultURL := ""
	if res.Final {
		status = domain.TaskStatusSucceeded
		if len(res.ResultURLs) > 0 {
			resultURL = res.ResultURLs[0]
			// A final result straight off the submission stream still points
			// at the vendor; pull it into internal storage before the record
			// is written so history never holds an ephemeral URL.
			if !s.internalURL(resultURL) {
				if promoted := s.promote(ctx, res.TaskID, resultURL); promoted != "" {
					resultURL = promoted
				}
			}
		}
	}

	emit(Event{
		Type:   EventResult,
		TaskID: res.TaskID,
		Status: string(status),
		Prompt: in.Prompt,
		Model:  string(model),
	})

	s.persistAsync("insert", res.TaskID, func(ctx context.Context) error {
		return s.repo.Insert(ctx, &domain.GenerationTask{
			ID:          res.TaskID,
			Prompt:      in.Prompt,
			Model:       model,
			AspectRatio: domain.NormalizeAspectRatio(in.AspectRatio),
			ImageSize:   domain.NormalizeImageSize(in.ImageSize),
			Status:      status,
			ResultURL:   resultURL,
			CreatedAt:   s.now(),
		})
	})

	return res.TaskID, nil
}

// stageInputImages decodes base64 data URLs and uploads the survivors
// concurrently. Malformed entries are dropped, not rejected; an upload
// failure is fatal because the vendor needs every surviving URL.
func (s *Service) stageInputImages(ctx context.Context, images []string, emit Sink) ([]string, error) {
	var decoded []decodedImage
	for _, img := range images {
		matches := dataURLPattern.FindStringSubmatch(img)
		if matches == nil {
			s.logger.Debug().Msg("dropping malformed input image entry")
			continue
		}
		data, err := base64.StdEncoding.DecodeString(matches[2])
		if err != nil {
			s.logger.Debug().Err(err).Msg("dropping undecodable input image entry")
			continue
		}
		decoded = append(decoded, decodedImage{data: data, contentType: matches[1]})
	}
	if len(decoded) == 0 {
		return nil, nil
	}

	emit(logEvent(fmt.Sprintf("Uploading %d input image(s)", len(decoded))))

	stamp := s.now().UnixMilli()
	urls := make([]string, len(decoded))
	errs := make([]error, len(decoded))
	var wg sync.WaitGroup
	for i, img := range decoded {
		wg.Add(1)
		go func(i int, img decodedImage) {
			defer wg.Done()
			key := fmt.Sprintf("inputs/%d-%d.png", stamp, i)
			urls[i], errs[i] = s.store.Put(ctx, key, img.data, img.contentType)
		}(i, img)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("upload input image: %w", err)
		}
	}
	return urls, nil
}

// Status reports the latest known state of a task. Terminal tasks resolve
// from the record store without touching the vendor: the vendor's result URL
// has no stability guarantee, and a task id synthesized during a stream-mode
// submission is unknown to the vendor entirely. Non-terminal tasks fetch a
// vendor snapshot; on the first successful observation the vendor-hosted
// result is promoted into the object store under a date-partitioned key and
// the snapshot URL rewritten to the internal one. Record writes are
// best-effort and never surface.
func (s *Service) Status(ctx context.Context, taskID string) (*grsai.Snapshot, error) {
	if snap := s.recordSnapshot(ctx, taskID); snap != nil {
		return snap, nil
	}

	snap, err := s.backend.FetchStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if snap.Progress < 0 {
		snap.Progress = 0
	} else if snap.Progress > 100 {
		snap.Progress = 100
	}

	switch snap.NormalizedStatus() {
	case domain.TaskStatusSucceeded:
		if len(snap.Results) == 0 {
			return snap, nil
		}
		if url := s.promotedURL(ctx, taskID); url != "" {
			snap.Results[0].URL = url
			return snap, nil
		}
		internalURL := s.promote(ctx, taskID, snap.Results[0].URL)
		if internalURL != "" {
			snap.Results[0].URL = internalURL
		}
		finalURL := snap.Results[0].URL
		s.persistAsync("update succeeded", taskID, func(ctx context.Context) error {
			return s.repo.UpdateStatus(ctx, taskID, domain.TaskStatusSucceeded, &finalURL, nil)
		})
	case domain.TaskStatusFailed:
		reason := snap.FailureMessage()
		s.persistAsync("update failed", taskID, func(ctx context.Context) error {
			return s.repo.UpdateStatus(ctx, taskID, domain.TaskStatusFailed, nil, &reason)
		})
	}
	return snap, nil
}

// recordSnapshot rebuilds a snapshot for a task the record store already
// holds in a terminal state; it returns nil when the vendor must be asked. A
// succeeded record still carrying a vendor URL gets a promotion attempt here,
// so an earlier promotion failure heals on the next status read.
func (s *Service) recordSnapshot(ctx context.Context, taskID string) *grsai.Snapshot {
	if s.repo == nil {
		return nil
	}
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil
	}
	switch task.Status {
	case domain.TaskStatusSucceeded:
		if task.ResultURL == "" {
			return nil
		}
		url := task.ResultURL
		if !s.internalURL(url) {
			if promoted := s.promote(ctx, taskID, url); promoted != "" {
				url = promoted
				final := promoted
				s.persistAsync("update succeeded", taskID, func(ctx context.Context) error {
					return s.repo.UpdateStatus(ctx, taskID, domain.TaskStatusSucceeded, &final, nil)
				})
			}
		}
		return &grsai.Snapshot{
			ID:       taskID,
			Status:   "succeeded",
			Progress: 100,
			Results:  []grsai.Result{{URL: url}},
		}
	case domain.TaskStatusFailed:
		reason := task.FailureReason
		if reason == "" {
			reason = "generation failed"
		}
		return &grsai.Snapshot{ID: taskID, Status: "failed", FailureReason: reason}
	}
	return nil
}

// promotedURL returns the internal result URL when promotion already ran. A
// stored vendor URL does not count: the record is written before promotion in
// stream mode, and trusting it would leave the ephemeral URL in place.
func (s *Service) promotedURL(ctx context.Context, taskID string) string {
	if s.repo == nil {
		return ""
	}
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil || task.Status != domain.TaskStatusSucceeded {
		return ""
	}
	if !s.internalURL(task.ResultURL) {
		return ""
	}
	return task.ResultURL
}

// internalURL reports whether url is served from this system's object store.
func (s *Service) internalURL(url string) bool {
	return url != "" && strings.HasPrefix(url, s.store.PublicURL(""))
}

// promote copies the vendor-hosted image into internal storage. Failure is
// logged and leaves the (transient) vendor URL in place.
func (s *Service) promote(ctx context.Context, taskID, vendorURL string) string {
	data, contentType, err := s.download(ctx, vendorURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("result promotion fetch failed")
		return ""
	}
	key := fmt.Sprintf("generations/%s/%s.png", s.now().UTC().Format("2006-01-02"), taskID)
	url, err := s.store.Put(ctx, key, data, contentType)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", taskID).Msg("result promotion upload failed")
		return ""
	}
	return url
}

func (s *Service) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}

// History lists the most recent succeeded generations, newest first.
func (s *Service) History(ctx context.Context) ([]domain.GenerationTask, error) {
	if s.repo == nil {
		return nil, domain.ErrStoreUnavailable
	}
	return s.repo.ListRecentByStatus(ctx, domain.TaskStatusSucceeded, historyLimit)
}

// ResultArchive zips the stored result image of a succeeded task.
func (s *Service) ResultArchive(ctx context.Context, taskID string) ([]byte, error) {
	if s.repo == nil {
		return nil, domain.ErrStoreUnavailable
	}
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusSucceeded || task.ResultURL == "" {
		return nil, domain.ErrNotFound
	}
	data, _, err := s.download(ctx, task.ResultURL)
	if err != nil {
		return nil, fmt.Errorf("fetch result for archive: %w", err)
	}
	archive, err := zip.ArchiveAssets([]zip.Asset{{
		Filename: taskID + ".png",
		Data:     data,
	}})
	if err != nil {
		return nil, fmt.Errorf("archive result: %w", err)
	}
	return archive, nil
}

// persistAsync runs a record write on a detached goroutine with its own
// timeout context. Failures are logged, never surfaced, never retried.
func (s *Service) persistAsync(op, taskID string, fn func(ctx context.Context) error) {
	if s.repo == nil {
		s.logger.Debug().Str("task_id", taskID).Msgf("record store not configured, skipping %s", op)
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error().Err(err).Str("task_id", taskID).Msgf("record %s failed", op)
		}
	}()
}

// Wait blocks until all fire-and-forget record writes have finished. Used on
// shutdown and in tests.
func (s *Service) Wait() {
	s.background.Wait()
}
