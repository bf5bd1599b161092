package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader carries the API key.
const APIKeyHeader = "X-API-KEY"

// AuthConfig holds the accepted API keys. No keys disables authentication.
type AuthConfig struct {
	keys []string
}

// NewAuthConfigWithKeys creates an AuthConfig, dropping empty keys.
func NewAuthConfigWithKeys(keys []string) AuthConfig {
	var out []string
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return AuthConfig{keys: out}
}

// Enabled reports whether any key is configured.
func (c AuthConfig) Enabled() bool { return len(c.keys) > 0 }

// Valid reports whether key is accepted.
func (c AuthConfig) Valid(key string) bool {
	for _, k := range c.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// keyFrom reads the API key from the X-API-KEY header or a bearer token.
func keyFrom(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// WriteProtect requires a valid key for mutating methods. GET, HEAD and
// OPTIONS always pass.
func WriteProtect(config AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if !config.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			key := keyFrom(r)
			if key == "" {
				WriteError(w, r, NewAuthenticationError("missing API key"), nil)
				return
			}
			if !config.Valid(key) {
				WriteError(w, r, NewAuthenticationError("invalid API key"), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteProtectAuth is WriteProtect over a list of keys.
func WriteProtectAuth(keys []string) func(http.Handler) http.Handler {
	return WriteProtect(NewAuthConfigWithKeys(keys))
}
