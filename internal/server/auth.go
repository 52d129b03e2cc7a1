package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// TokenHeader carries the per-launch session token.
const TokenHeader = "X-Audiodesk-Token"

// TokenAuth rejects requests that do not present token. Browsers cannot set
// headers on WebSocket upgrades, so the token query parameter is accepted too.
func TokenAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			slog.Warn("rejected unauthenticated request", "remote", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
