package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
)

// HashKey returns the SHA-256 hex digest of a raw API key. Configuration
// stores only digests.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RequireAPIKey rejects requests whose key does not hash to one of
// hashes. The key is read from "Authorization: Bearer <key>" or X-API-Key.
// With no hashes configured every request is let through.
func RequireAPIKey(hashes []string) func(http.Handler) http.Handler {
	digests := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		d, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil || len(d) != sha256.Size {
			slog.Warn("ignoring malformed api key hash", "hash_prefix", prefix(h))
			continue
		}
		digests = append(digests, d)
	}
	return func(next http.Handler) http.Handler {
		if len(hashes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing api key")
				return
			}
			sum := sha256.Sum256([]byte(key))
			for _, d := range digests {
				if subtle.ConstantTimeCompare(sum[:], d) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSONError(w, http.StatusUnauthorized, "invalid api key")
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func prefix(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}` + "\n"))
}
