package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAccessKey(t *testing.T) {
	allowed := []string{"alpha", "beta"}
	if !ValidateAccessKey(allowed, "alpha") {
		t.Fatalf("ValidateAccessKey(alpha) = false, want true")
	}
	if ValidateAccessKey(allowed, "gamma") {
		t.Fatalf("ValidateAccessKey(gamma) = true, want false")
	}
	if ValidateAccessKey(allowed, "") {
		t.Fatalf("ValidateAccessKey(\"\") = true, want false")
	}
	if ValidateAccessKey(nil, "alpha") {
		t.Fatalf("ValidateAccessKey with empty allow-list = true, want false")
	}
}

func TestRequireAccessKey(t *testing.T) {
	handler := RequireAccessKey([]string{"alpha"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set(AccessKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set(AccessKeyHeader, "alpha")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("valid key status = %d, want 204", rec.Code)
	}

	// Query parameter fallback for direct-download links.
	req = httptest.NewRequest(http.MethodGet, "/api/history?key=alpha", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("query key status = %d, want 204", rec.Code)
	}
}
