package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrMissingKey indicates that the Authorization header was not provided.
	ErrMissingKey = errors.New("missing API key")
	// ErrInvalidPrefix indicates the header did not use the required Key prefix.
	ErrInvalidPrefix = errors.New("invalid authorization prefix")
	// ErrUnknownKey indicates the key is not configured.
	ErrUnknownKey = errors.New("unknown API key")
)

// ExtractKey parses an "Authorization: Key <token>" header.
func ExtractKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingKey
	}

	if !strings.HasPrefix(header, "Key ") {
		return "", ErrInvalidPrefix
	}

	token := strings.TrimPrefix(header, "Key ")
	if token == "" {
		return "", ErrMissingKey
	}

	return token, nil
}

// RequireKey rejects requests whose key is not in keys. With no keys
// configured every request is allowed.
func RequireKey(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractKey(r)
			if err == nil && !known(keys, token) {
				err = ErrUnknownKey
			}
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func known(keys []string, token string) bool {
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(token)) == 1 {
			return true
		}
	}
	return false
}
