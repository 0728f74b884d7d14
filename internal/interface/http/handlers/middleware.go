package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MiddlewareFunc wraps an http.Handler.
type MiddlewareFunc func(http.Handler) http.Handler

// Chain composes middleware so the first argument runs outermost.
func Chain(middlewares ...MiddlewareFunc) MiddlewareFunc {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ChainHandler composes middleware around a final handler.
func ChainHandler(handler http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	return Chain(middlewares...)(handler)
}

// writeErrorBody emits the minimal inline JSON used by middleware that
// rejects a request before it reaches the server's envelope helpers.
func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"message":%q}`, code, message)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// AdminAuth guards the manual-trigger endpoint with a bcrypt-hashed admin
// token. Only the hash is configured; the plaintext token exists solely in
// the officer's password manager and in the request.
type AdminAuth struct {
	passwordHash []byte
}

// NewAdminAuth creates an authenticator for the given bcrypt hash.
func NewAdminAuth(passwordHash string) *AdminAuth {
	return &AdminAuth{passwordHash: []byte(passwordHash)}
}

// Verify checks a plaintext token against the configured hash.
func (a *AdminAuth) Verify(token string) bool {
	if token == "" || len(a.passwordHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(token)) == nil
}

// Middleware requires a valid admin token, read from the X-Admin-Token
// header or a Bearer Authorization header.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := adminToken(r)
		switch {
		case token == "":
			writeErrorBody(w, http.StatusUnauthorized, "missing_admin_token", "Admin token is required")
		case !a.Verify(token):
			writeErrorBody(w, http.StatusUnauthorized, "invalid_admin_token", "Invalid admin token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func adminToken(r *http.Request) string {
	if token := r.Header.Get("X-Admin-Token"); token != "" {
		return token
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return bearer
	}
	return ""
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HARDENING
// ══════════════════════════════════════════════════════════════════════════════

// TimeoutMiddleware bounds handler execution. A handler that runs past the
// deadline gets 504 written on its behalf and sees its context cancelled.
func TimeoutMiddleware(timeout time.Duration) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(w, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					writeErrorBody(w, http.StatusGatewayTimeout, "timeout", "Request timeout exceeded")
				}
			}
		})
	}
}

// NoCacheMiddleware disables caching at every layer. The report changes
// once per daily run; a stale intermediary copy is worse than the extra
// read.
func NoCacheMiddleware(next http.Handler) http.Handler {
	return setHeaders(next, map[string]string{
		"Cache-Control": "no-store, no-cache, must-revalidate, max-age=0",
		"Pragma":        "no-cache",
		"Expires":       "0",
	})
}

// SecurityHeadersMiddleware adds standard hardening headers for a JSON API.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return setHeaders(next, map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	})
}

func setHeaders(next http.Handler, headers map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimitMiddleware rejects oversized bodies by Content-Length
// and caps the actual read for chunked requests.
func RequestSizeLimitMiddleware(maxBytes int64) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				writeErrorBody(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
