package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/clinvia/assist/internal/logging"
)

// adminAuth returns an HTTP middleware that gates the admin surface behind
// Bearer token authentication. If token is empty the whole surface is
// disabled: every request receives 404, so probes cannot even learn the
// routes exist.
//
// Protected routes must supply:
//
//	Authorization: Bearer <token>
//
// Requests missing or presenting an incorrect token receive 401 Unauthorized
// with a WWW-Authenticate: Bearer challenge. The invalid token value is never
// logged — only its presence/absence is recorded.
func adminAuth(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logging.FromContext(r.Context())

			got := bearerToken(r)
			if got == "" {
				log.Warn("auth: missing Authorization header",
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="clinvia-admin"`)
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}

			if got != token {
				log.Warn("auth: invalid token",
					slog.String("path", r.URL.Path),
					slog.Bool("token_present", true),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="clinvia-admin" error="invalid_token"`)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
