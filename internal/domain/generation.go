package domain

import "time"

// TaskStatus enumerates the generation task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further status transitions are permitted.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// GenerationModel enumerates supported generation model variants.
type GenerationModel string

const (
	ModelNanoBananaFast GenerationModel = "nano-banana-fast"
	ModelNanoBanana     GenerationModel = "nano-banana"
	ModelNanoBananaPro  GenerationModel = "nano-banana-pro"

	DefaultModel = ModelNanoBananaPro
)

// NormalizeModel maps arbitrary input onto a supported model, defaulting
// unknown or empty values to DefaultModel.
func NormalizeModel(v string) GenerationModel {
	switch GenerationModel(v) {
	case ModelNanoBananaFast, ModelNanoBanana, ModelNanoBananaPro:
		return GenerationModel(v)
	}
	return DefaultModel
}

const (
	DefaultAspectRatio = "auto"
	DefaultImageSize   = "1K"
)

var aspectRatios = map[string]struct{}{
	"auto": {}, "1:1": {}, "16:9": {}, "9:16": {}, "4:3": {}, "3:4": {},
	"3:2": {}, "2:3": {}, "5:4": {}, "4:5": {}, "21:9": {},
}

var imageSizes = map[string]struct{}{
	"1K": {}, "2K": {}, "4K": {},
}

// NormalizeAspectRatio defaults unknown or empty ratios to "auto".
func NormalizeAspectRatio(v string) string {
	if _, ok := aspectRatios[v]; ok {
		return v
	}
	return DefaultAspectRatio
}

// NormalizeImageSize defaults unknown or empty sizes to "1K".
func NormalizeImageSize(v string) string {
	if _, ok := imageSizes[v]; ok {
		return v
	}
	return DefaultImageSize
}

// GenerationTask is the durable record of one generation request. The id is
// assigned by the generation backend and correlates every later status query;
// resultUrl is written at most once and never revoked.
type GenerationTask struct {
	ID            string
	Prompt        string
	Model         GenerationModel
	AspectRatio   string
	ImageSize     string
	Status        TaskStatus
	Progress      int
	ResultURL     string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
