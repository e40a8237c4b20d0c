package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionKey   contextKey = "session"
)

// SessionMiddleware marks the request as authenticated when a bearer token is
// present. The cart core only ever asks whether a session exists; validating
// the token is the storefront API's business.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authenticated := r.Header.Get("Authorization") != ""
		ctx := context.WithValue(r.Context(), sessionKey, authenticated)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = fmt.Sprintf("req-%d", time.Now().UnixNano())
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HeaderSession adapts the middleware's context flag to the handoff's
// session oracle.
type HeaderSession struct{}

func (HeaderSession) IsAuthenticated(ctx context.Context) bool {
	authenticated, ok := ctx.Value(sessionKey).(bool)
	return ok && authenticated
}
