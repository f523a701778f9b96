package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"kinship/pkg/requestcontext"
)

// ClientMetadata stores client IP and User-Agent in the request context for
// audit records.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestTime pins a single "now" for the whole request.
func RequestTime(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then RemoteAddr.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// BearerToken extracts the credential from an "Authorization: Bearer <token>"
// header. ok is false when the header is absent or uses another scheme.
func BearerToken(r *http.Request) (token string, ok bool) {
	const bearerPrefix = "Bearer "
	token, ok = strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}
