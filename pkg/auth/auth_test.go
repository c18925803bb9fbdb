package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractKey(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	req.Header.Set("Authorization", "Key test-token")

	token, err := ExtractKey(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if token != "test-token" {
		t.Fatalf("unexpected token: %s", token)
	}
}

func TestExtractKeyErrors(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)

	if _, err := ExtractKey(req); err != ErrMissingKey {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}

	req.Header.Set("Authorization", "Bearer abc")
	if _, err := ExtractKey(req); err != ErrInvalidPrefix {
		t.Fatalf("expected ErrInvalidPrefix, got %v", err)
	}

	req.Header.Set("Authorization", "Key ")
	if _, err := ExtractKey(req); err != ErrMissingKey {
		t.Fatalf("expected ErrMissingKey for empty token, got %v", err)
	}
}

func TestRequireKey(t *testing.T) {
	handler := RequireKey([]string{"k1", "k2"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]int{
		"":         http.StatusUnauthorized,
		"Key k2":   http.StatusNoContent,
		"Key nope": http.StatusUnauthorized,
		"Bearer k": http.StatusUnauthorized,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("header %q: got %d, want %d", header, rec.Code, want)
		}
	}
}

func TestRequireKeyWithoutKeysAllowsAll(t *testing.T) {
	handler := RequireKey(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nodes", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected request to pass, got %d", rec.Code)
	}
}
