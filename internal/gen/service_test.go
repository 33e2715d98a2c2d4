package gen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/providers/grsai"
	"studio/internal/storage"
)

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)
	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "   "}, func(Event) {})
	if !errors.Is(err, domain.ErrInvalidPrompt) {
		t.Fatalf("Generate() error = %v, want ErrInvalidPrompt", err)
	}
}

func TestGenerateRetriesExactlyThreeTimes(t *testing.T) {
	backend := &fakeBackend{submitErr: errors.New("vendor down")}
	svc := newTestService(t, backend, nil)
	svc.backoff = 50 * time.Millisecond

	var events []Event
	start := time.Now()
	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "a red cube"}, func(e Event) {
		events = append(events, e)
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("Generate() expected error after exhausted retries")
	}
	if backend.submitCalls != 3 {
		t.Fatalf("submit attempts = %d, want exactly 3", backend.submitCalls)
	}
	// Two fixed backoff waits between three attempts.
	if elapsed < 100*time.Millisecond {
		t.Fatalf("elapsed = %v, want at least two backoff intervals", elapsed)
	}
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %+v, want error event", last)
	}
}

func TestGenerateDropsMalformedImagesAndUploadsRest(t *testing.T) {
	backend := &fakeBackend{submitResult: &grsai.SubmitResult{TaskID: "task-1"}}
	store := newFakeObjectStore()
	svc := newTestService(t, backend, store)

	valid := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("img"))
	_, err := svc.Generate(context.Background(), GenerateInput{
		Prompt: "a red cube",
		Images: []string{valid, "not-a-data-url", valid},
	}, func(Event) {})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if got := len(backend.lastSubmit.URLs); got != 2 {
		t.Fatalf("conditioning urls = %d, want 2 (malformed entry dropped)", got)
	}
	if store.putCount() != 2 {
		t.Fatalf("store puts = %d, want 2", store.putCount())
	}
	for _, u := range backend.lastSubmit.URLs {
		if !strings.Contains(u, "/inputs/") {
			t.Fatalf("conditioning url %q not under inputs/", u)
		}
	}
}

func TestGeneratePersistsPendingRecord(t *testing.T) {
	backend := &fakeBackend{submitResult: &grsai.SubmitResult{TaskID: "task-7"}}
	repo := newFakeRepo()
	svc := newTestService(t, backend, nil)
	svc.repo = repo

	var result Event
	taskID, err := svc.Generate(context.Background(), GenerateInput{Prompt: "a red cube", Model: "nano-banana-pro"}, func(e Event) {
		if e.Type == EventResult {
			result = e
		}
	})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	svc.Wait()

	if taskID != "task-7" || result.TaskID != "task-7" {
		t.Fatalf("task id = %q / event %+v, want task-7", taskID, result)
	}
	if result.Status != "pending" {
		t.Fatalf("result event status = %q, want pending", result.Status)
	}
	rec := repo.get("task-7")
	if rec == nil || rec.Status != domain.TaskStatusPending {
		t.Fatalf("record = %+v, want pending insert", rec)
	}
	if rec.Model != domain.ModelNanoBananaPro {
		t.Fatalf("record model = %q", rec.Model)
	}
}

func TestGenerateStreamModeRecordsSucceeded(t *testing.T) {
	backend := &fakeBackend{submitResult: &grsai.SubmitResult{
		TaskID:     "task-s",
		ResultURLs: []string{"https://cdn.example.com/generations/a.png"},
		Final:      true,
	}}
	repo := newFakeRepo()
	store := newFakeObjectStore()
	svc := newTestService(t, backend, store)
	svc.repo = repo

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "p"}, func(Event) {})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	svc.Wait()

	rec := repo.get("task-s")
	if rec == nil || rec.Status != domain.TaskStatusSucceeded {
		t.Fatalf("record = %+v, want succeeded", rec)
	}
	if rec.ResultURL != "https://cdn.example.com/generations/a.png" {
		t.Fatalf("record url = %q", rec.ResultURL)
	}
	// Already internal: no second copy.
	if store.putCount() != 0 {
		t.Fatalf("store puts = %d, want 0 for an already-internal url", store.putCount())
	}
}

func TestGenerateStreamModePromotesVendorResult(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer vendor.Close()

	backend := &fakeBackend{
		submitResult: &grsai.SubmitResult{
			TaskID:     "gen-1700000000",
			ResultURLs: []string{vendor.URL + "/ephemeral/img.png"},
			Final:      true,
		},
		statusErr: errors.New("task not found"),
	}
	repo := newFakeRepo()
	store := newFakeObjectStore()
	svc := newTestService(t, backend, store)
	svc.repo = repo

	_, err := svc.Generate(context.Background(), GenerateInput{Prompt: "p"}, func(Event) {})
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	svc.Wait()

	rec := repo.get("gen-1700000000")
	if rec == nil || rec.Status != domain.TaskStatusSucceeded {
		t.Fatalf("record = %+v, want succeeded", rec)
	}
	if !strings.HasPrefix(rec.ResultURL, "https://cdn.example.com/generations/") {
		t.Fatalf("record url = %q, want promoted internal url", rec.ResultURL)
	}
	if store.putCount() != 1 {
		t.Fatalf("store puts = %d, want 1", store.putCount())
	}

	// The synthesized id is unknown to the vendor; the status read must
	// resolve from the record alone.
	snap, err := svc.Status(context.Background(), "gen-1700000000")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if snap.Results[0].URL != rec.ResultURL || snap.Progress != 100 {
		t.Fatalf("snapshot = %+v, want succeeded with %q", snap, rec.ResultURL)
	}
}

func TestStatusResolvesTerminalRecordWithoutVendor(t *testing.T) {
	backend := &fakeBackend{statusErr: errors.New("task not found")}
	repo := newFakeRepo()
	repo.put(&domain.GenerationTask{
		ID:        "gen-42",
		Status:    domain.TaskStatusSucceeded,
		ResultURL: "https://cdn.example.com/generations/2026-08-31/gen-42.png",
	})
	repo.put(&domain.GenerationTask{
		ID:            "task-f",
		Status:        domain.TaskStatusFailed,
		FailureReason: "policy violation",
	})
	svc := newTestService(t, backend, nil)
	svc.repo = repo

	snap, err := svc.Status(context.Background(), "gen-42")
	if err != nil {
		t.Fatalf("Status() error = %v, want record-backed snapshot", err)
	}
	if snap.NormalizedStatus() != domain.TaskStatusSucceeded ||
		snap.Results[0].URL != "https://cdn.example.com/generations/2026-08-31/gen-42.png" {
		t.Fatalf("snapshot = %+v", snap)
	}

	failed, err := svc.Status(context.Background(), "task-f")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if failed.NormalizedStatus() != domain.TaskStatusFailed || failed.FailureMessage() != "policy violation" {
		t.Fatalf("snapshot = %+v, want failed with reason", failed)
	}
}

func TestStatusPromotesResultOnce(t *testing.T) {
	var vendorHits int
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vendorHits++
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer vendor.Close()

	backend := &fakeBackend{snapshot: &grsai.Snapshot{
		ID:       "task-3",
		Status:   "succeeded",
		Progress: 100,
		Results:  []grsai.Result{{URL: vendor.URL + "/img.png"}},
	}}
	store := newFakeObjectStore()
	repo := newFakeRepo()
	repo.put(&domain.GenerationTask{ID: "task-3", Status: domain.TaskStatusPending})
	svc := newTestService(t, backend, store)
	svc.repo = repo

	snap, err := svc.Status(context.Background(), "task-3")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	svc.Wait()

	first := snap.Results[0].URL
	if !strings.Contains(first, "/generations/") || !strings.HasSuffix(first, "/task-3.png") {
		t.Fatalf("promoted url = %q, want date-partitioned internal key", first)
	}
	rec := repo.get("task-3")
	if rec.Status != domain.TaskStatusSucceeded || rec.ResultURL != first {
		t.Fatalf("record = %+v, want succeeded with %q", rec, first)
	}

	// Second terminal read: rewritten from the record, vendor not re-fetched.
	snap2, err := svc.Status(context.Background(), "task-3")
	if err != nil {
		t.Fatalf("Status() second call error: %v", err)
	}
	svc.Wait()
	if snap2.Results[0].URL != first {
		t.Fatalf("second read url = %q, want stable %q", snap2.Results[0].URL, first)
	}
	if vendorHits != 1 {
		t.Fatalf("vendor fetches = %d, want 1", vendorHits)
	}
	if store.putCount() != 1 {
		t.Fatalf("store puts = %d, want 1", store.putCount())
	}
}

func TestStatusPromotionFailureKeepsVendorURL(t *testing.T) {
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer vendor.Close()

	vendorURL := vendor.URL + "/img.png"
	backend := &fakeBackend{snapshot: &grsai.Snapshot{
		ID:      "task-4",
		Status:  "succeeded",
		Results: []grsai.Result{{URL: vendorURL}},
	}}
	repo := newFakeRepo()
	repo.put(&domain.GenerationTask{ID: "task-4", Status: domain.TaskStatusPending})
	svc := newTestService(t, backend, newFakeObjectStore())
	svc.repo = repo

	snap, err := svc.Status(context.Background(), "task-4")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	svc.Wait()
	if snap.Results[0].URL != vendorURL {
		t.Fatalf("url = %q, want transient vendor url kept", snap.Results[0].URL)
	}
	rec := repo.get("task-4")
	if rec.ResultURL != vendorURL {
		t.Fatalf("record url = %q, want vendor url", rec.ResultURL)
	}
}

func TestStatusRecordsFailure(t *testing.T) {
	backend := &fakeBackend{snapshot: &grsai.Snapshot{
		ID:            "task-5",
		Status:        "failed",
		FailureReason: "policy violation",
	}}
	repo := newFakeRepo()
	repo.put(&domain.GenerationTask{ID: "task-5", Status: domain.TaskStatusRunning})
	svc := newTestService(t, backend, nil)
	svc.repo = repo

	snap, err := svc.Status(context.Background(), "task-5")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	svc.Wait()
	if snap.FailureMessage() != "policy violation" {
		t.Fatalf("failure message = %q", snap.FailureMessage())
	}
	rec := repo.get("task-5")
	if rec.Status != domain.TaskStatusFailed || rec.FailureReason != "policy violation" {
		t.Fatalf("record = %+v, want failed with reason", rec)
	}
}

func TestStatusPersistenceFailureNeverSurfaces(t *testing.T) {
	backend := &fakeBackend{snapshot: &grsai.Snapshot{
		ID:     "task-6",
		Status: "failed",
	}}
	repo := newFakeRepo()
	repo.updateErr = errors.New("db down")
	svc := newTestService(t, backend, nil)
	svc.repo = repo

	if _, err := svc.Status(context.Background(), "task-6"); err != nil {
		t.Fatalf("Status() error = %v, persistence failures must be swallowed", err)
	}
	svc.Wait()
}

func TestHistoryWithoutRepo(t *testing.T) {
	svc := newTestService(t, &fakeBackend{}, nil)
	if _, err := svc.History(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("History() error = %v, want ErrStoreUnavailable", err)
	}
}

func newTestService(t *testing.T, backend Backend, store storage.ObjectStore) *Service {
	t.Helper()
	if store == nil {
		store = newFakeObjectStore()
	}
	return NewService(Options{
		Backend: backend,
		Store:   store,
		Logger:  zerolog.Nop(),
	})
}

type fakeBackend struct {
	submitResult *grsai.SubmitResult
	submitErr    error
	snapshot     *grsai.Snapshot
	statusErr    error

	submitCalls int
	lastSubmit  grsai.DrawRequest
}

func (f *fakeBackend) Submit(ctx context.Context, req grsai.DrawRequest) (*grsai.SubmitResult, error) {
	f.submitCalls++
	f.lastSubmit = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitResult, nil
}

func (f *fakeBackend) FetchStatus(ctx context.Context, taskID string) (*grsai.Snapshot, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	// Copy so mutation by the service does not leak between calls.
	snap := *f.snapshot
	snap.Results = append([]grsai.Result(nil), f.snapshot.Results...)
	return &snap, nil
}

type fakeObjectStore struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{puts: map[string][]byte{}}
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[key] = data
	return f.PublicURL(key), nil
}

func (f *fakeObjectStore) PresignPut(ctx context.Context, key, contentType string) (*storage.PresignedUpload, error) {
	return &storage.PresignedUpload{UploadURL: "https://upload.example/" + key, PublicURL: f.PublicURL(key)}, nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakeObjectStore) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

type fakeRepo struct {
	mu        sync.Mutex
	tasks     map[string]*domain.GenerationTask
	updateErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tasks: map[string]*domain.GenerationTask{}}
}

func (f *fakeRepo) Insert(ctx context.Context, task *domain.GenerationTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cloned := *task
	f.tasks[task.ID] = &cloned
	return nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, resultURL, failureReason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	task, ok := f.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	task.Status = status
	if resultURL != nil {
		task.ResultURL = *resultURL
	}
	if failureReason != nil {
		task.FailureReason = *failureReason
	}
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cloned := *task
	return &cloned, nil
}

func (f *fakeRepo) ListRecentByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.GenerationTask
	for _, task := range f.tasks {
		if task.Status == status {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (f *fakeRepo) put(task *domain.GenerationTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
}

func (f *fakeRepo) get(taskID string) *domain.GenerationTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return nil
	}
	cloned := *task
	return &cloned
}
