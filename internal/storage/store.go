package storage

import (
	"context"
	"errors"
)

// ErrPresignUnsupported is returned by stores that cannot issue direct
// client-to-store upload URLs.
var ErrPresignUnsupported = errors.New("storage: presigned uploads not supported")

// PresignedUpload carries a short-lived direct upload URL and the public URL
// the object will be reachable at once uploaded.
type PresignedUpload struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
}

// ObjectStore uploads raw bytes to a publicly fetchable URL. Implementations
// own key sanitization; callers pass slash-separated relative keys.
type ObjectStore interface {
	// Put writes data under key and returns the public URL of the object.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// PresignPut issues a PUT URL valid for a bounded window so clients can
	// upload directly to the store.
	PresignPut(ctx context.Context, key, contentType string) (*PresignedUpload, error)
	// PublicURL returns the public URL an object at key would be served from.
	PublicURL(key string) string
}
