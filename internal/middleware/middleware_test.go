package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"imagegateway/internal/auth"
	"imagegateway/internal/domain"
	"imagegateway/internal/ratelimit"
)

var testSecret = []byte("middleware-secret")

type chain struct {
	handler http.Handler
	store   *ratelimit.MemoryStore
	calls   int
}

func newChain(t *testing.T, burst float64) *chain {
	t.Helper()
	authn, err := auth.New(auth.Options{Secret: testSecret})
	if err != nil {
		t.Fatal(err)
	}
	c := &chain{store: ratelimit.NewMemoryStore()}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lim := ratelimit.NewLimiter(c.store,
		ratelimit.Policies{Default: ratelimit.Policy{Burst: burst, RefillPerSecond: 1}},
		zerolog.Nop(),
		ratelimit.WithClock(func() time.Time { return clock }))
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.calls++
		w.WriteHeader(http.StatusOK)
	})
	c.handler = RequestID(Auth(authn, zerolog.Nop())(RateLimit(lim)(final)))
	return c
}

func token(t *testing.T, subject string, ttl time.Duration) string {
	t.Helper()
	tok, err := auth.IssueHS256(testSecret, auth.TokenRequest{Subject: subject, TTL: ttl})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAuthRejectsBeforeRateLimit(t *testing.T) {
	c := newChain(t, 10)
	expired, err := auth.IssueHS256(testSecret, auth.TokenRequest{
		Subject: "client-1",
		TTL:     time.Minute,
		Now:     time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	headers := []string{"", "Token abc", "Bearer garbage", "Bearer " + expired}
	for _, h := range headers {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		if h != "" {
			req.Header.Set("Authorization", h)
		}
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", h, rec.Code)
		}
		if body := decodeError(t, rec); body.Error != domain.KindAuth {
			t.Fatalf("header %q: error kind = %q", h, body.Error)
		}
	}
	if c.calls != 0 {
		t.Fatalf("handler called %d times for rejected requests", c.calls)
	}
	if _, ok := c.store.Snapshot("sub:client-1"); ok {
		t.Fatal("rejected requests consumed rate-limit budget")
	}
	if _, ok := c.store.Snapshot("ip:192.0.2.1"); ok {
		t.Fatal("rejected requests consumed rate-limit budget")
	}
}

func TestRateLimitDeniesAfterBurst(t *testing.T) {
	c := newChain(t, 10)
	tok := token(t, "client-1", time.Hour)

	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/generate", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		c.handler.ServeHTTP(rec, req)
		if i < 10 {
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d", i+1, rec.Code)
			}
			continue
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("11th request: status = %d, want 429", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "1" {
			t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
		if body := decodeError(t, rec); body.Error != domain.KindRateLimited {
			t.Fatalf("error kind = %q", body.Error)
		}
	}
	if c.calls != 10 {
		t.Fatalf("handler calls = %d, want 10", c.calls)
	}

	// A different subject has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "client-2", time.Hour))
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client status = %d", rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Check(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestRateLimitFailsClosed(t *testing.T) {
	called := false
	h := RateLimit(failingLimiter{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/x", nil))
	if rec.Code != http.StatusTooManyRequests || called {
		t.Fatalf("status = %d, called = %v", rec.Code, called)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("request id not propagated: %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\nwith newline")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen == "" || seen == "bad id\nwith newline" {
		t.Fatalf("unsafe request id accepted: %q", seen)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin allowed")
	}
}
