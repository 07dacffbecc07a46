package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-im/internal/auth"
	"campus-im/internal/config"
)

var testAuth = config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Minute, JWTIssuer: "campus-identity"}

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, _ := GetUserIDFromContext(r.Context())
	name, _ := GetUsernameFromContext(r.Context())
	w.Header().Set("X-User", name)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte{byte('0' + id)})
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware(http.HandlerFunc(echoUser), testAuth)
	token, err := auth.GenerateToken(7, "grace", testAuth)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"ok", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "grace", rec.Header().Get("X-User"))
				assert.Equal(t, "7", rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1), "burst exhausted")
	assert.True(t, rl.Allow(2), "other users have their own bucket")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow(1), "refilled after one second")

	now = now.Add(time.Hour)
	rl.Cleanup()
	rl.mu.Lock()
	assert.Empty(t, rl.m)
	rl.mu.Unlock()
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Middleware(http.HandlerFunc(echoUser))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUser(req.Context(), 3, "heidi"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusOK, call().Code)
	rec := call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestObserveKeepsStatus(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Observe)
	r.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/5", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestObserveKeepsHijacker(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Observe)
	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Hijacker); !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
