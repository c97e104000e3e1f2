package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"imagegateway/internal/domain"
)

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		forwarded string
		remote    string
		want      string
	}{
		{name: "subject wins over ip", subject: "svc-a", forwarded: "203.0.113.1", remote: "198.51.100.10:1234", want: "sub:svc-a"},
		{name: "empty subject uses ip", subject: "", remote: "198.51.100.10:1234", want: "ip:198.51.100.10"},
		{name: "first forwarded ip", forwarded: " 203.0.113.1 , 198.51.100.2 ", remote: "198.51.100.10:1234", want: "ip:203.0.113.1"},
		{name: "garbage forwarded falls back to remote", forwarded: "unknown", remote: "198.51.100.10:1234", want: "ip:198.51.100.10"},
		{name: "skips blank forwarded entries", forwarded: ", ,2001:db8::1", remote: "198.51.100.10:1234", want: "ip:2001:db8::1"},
		{name: "ipv6 remote", remote: net.JoinHostPort("2001:db8::2", "443"), want: "ip:2001:db8::2"},
		{name: "remote without port", remote: "203.0.113.7", want: "ip:203.0.113.7"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/generate", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.subject != "" || tc.name == "empty subject uses ip" {
				req = req.WithContext(ContextWithPrincipal(req.Context(), domain.Principal{Subject: tc.subject}))
			}
			if got := rateLimitKey(req); got != tc.want {
				t.Fatalf("rateLimitKey() = %q, want %q", got, tc.want)
			}
		})
	}
}
