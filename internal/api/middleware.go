package api

import (
	"context"
	"encoding/json"
	"log"
	"miyav/internal/auth"
	"miyav/internal/models"
	"net/http"
	"time"

	"github.com/c-pro/geche"
)

type contextKey struct{}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(contextKey{}).(string)
	return id
}

// RequireAuth rejects requests without a valid token and stores the user ID in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}
		userID, err := a.auth.GetUserID(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token.")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, userID)))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

type rateWindow struct {
	start int64
	count int
}

// rateLimiter allows limit requests per key in each fixed window.
type rateLimiter struct {
	limit   int
	window  time.Duration
	windows *geche.Locker[string, rateWindow]
	now     func() time.Time
}

func newRateLimiter(ctx context.Context, limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		windows: geche.NewLocker[string, rateWindow](geche.NewMapTTLCache[string, rateWindow](ctx, window, window)),
		now:     time.Now,
	}
}

func (l *rateLimiter) Allow(key string) bool {
	now := l.now().UnixNano()

	tx := l.windows.Lock()
	defer tx.Unlock()

	w, err := tx.Get(key)
	if err != nil || now-w.start >= int64(l.window) {
		w = rateWindow{start: now}
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	tx.Set(key, w)
	return true
}

// RateLimit limits an authenticated handler per user.
func (a *API) RateLimit(l *rateLimiter, msg string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if l.limit > 0 && !l.Allow(userIDFrom(r)) {
			writeError(w, http.StatusTooManyRequests, msg)
			return
		}
		next(w, r)
	}
}
