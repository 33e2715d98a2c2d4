package grsai

import "studio/internal/domain"

// DrawRequest is the wire payload submitted to the generation endpoint.
type DrawRequest struct {
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	AspectRatio  string   `json:"aspectRatio"`
	ImageSize    string   `json:"imageSize"`
	URLs         []string `json:"urls"`
	WebHook      string   `json:"webHook,omitempty"`
	ShutProgress bool     `json:"shutProgress"`
}

// Result is a single generated artifact reference inside a snapshot. The
// vendor-hosted URL has no stability guarantee until it is promoted to
// internal storage.
type Result struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Snapshot is a point-in-time status read of a generation task.
type Snapshot struct {
	ID            string   `json:"id"`
	Results       []Result `json:"results"`
	Progress      int      `json:"progress"`
	Status        string   `json:"status"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// NormalizedStatus maps vendor status strings onto the shared task status
// vocabulary; the vendor reports "queued" where this system says "pending".
func (s *Snapshot) NormalizedStatus() domain.TaskStatus {
	switch s.Status {
	case "queued", "pending":
		return domain.TaskStatusPending
	case "running":
		return domain.TaskStatusRunning
	case "succeeded":
		return domain.TaskStatusSucceeded
	case "failed":
		return domain.TaskStatusFailed
	}
	return domain.TaskStatusPending
}

// FailureMessage returns the vendor failure reason with fallbacks.
func (s *Snapshot) FailureMessage() string {
	if s.FailureReason != "" {
		return s.FailureReason
	}
	if s.Error != "" {
		return s.Error
	}
	return "generation failed"
}

// SubmitResult is the outcome of one submission. In poll mode only TaskID is
// set; in stream mode Final is true and ResultURLs carries the finished
// artifacts.
type SubmitResult struct {
	TaskID     string
	ResultURLs []string
	Final      bool
}
