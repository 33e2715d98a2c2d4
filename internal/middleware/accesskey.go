package middleware

import (
	"encoding/json"
	"net/http"
)

// AccessKeyHeader is the shared-secret header checked on every API request.
const AccessKeyHeader = "X-Access-Key"

// ValidateAccessKey reports whether key is on the allow-list. An empty
// allow-list denies everything: auth is enabled, so fail closed.
func ValidateAccessKey(allowed []string, key string) bool {
	if key == "" || len(allowed) == 0 {
		return false
	}
	for _, k := range allowed {
		if k == key {
			return true
		}
	}
	return false
}

// RequireAccessKey rejects requests whose X-Access-Key header (or, as a
// fallback, ?key= query parameter) is missing or not on the allow-list.
func RequireAccessKey(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AccessKeyHeader)
			if key == "" {
				key = r.URL.Query().Get("key")
			}
			if !ValidateAccessKey(allowed, key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
