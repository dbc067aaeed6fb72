package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithHeaders(t *testing.T, req *http.Request, inner http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	if inner == nil {
		inner = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }
	}
	rec := httptest.NewRecorder()
	WithSecurityHeaders(inner).ServeHTTP(rec, req)
	return rec
}

func TestWithSecurityHeadersDefaults(t *testing.T) {
	rec := serveWithHeaders(t, httptest.NewRequest(http.MethodPost, "/auth/login", nil), nil)
	want := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Referrer-Policy":           "no-referrer",
		"Cache-Control":             "no-store",
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "",
	}
	for name, value := range want {
		if got := rec.Header().Get(name); got != value {
			t.Fatalf("%s = %q, want %q", name, got, value)
		}
	}
}

func TestWithSecurityHeadersCacheControlOverridable(t *testing.T) {
	rec := serveWithHeaders(t, httptest.NewRequest(http.MethodGet, "/auth/jwks", nil), func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		w.WriteHeader(http.StatusOK)
	})
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=300" {
		t.Fatalf("Cache-Control = %q, want handler value", got)
	}
}

func TestIsHTTPS(t *testing.T) {
	cases := []struct {
		name  string
		proto string
		tls   bool
		want  bool
	}{
		{"plain", "", false, false},
		{"direct tls", "", true, true},
		{"forwarded https", " HTTPS ", false, true},
		{"forwarded http", "http", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			if got := IsHTTPS(req); got != tc.want {
				t.Fatalf("IsHTTPS = %v, want %v", got, tc.want)
			}
			rec := serveWithHeaders(t, req, nil)
			if hsts := rec.Header().Get("Strict-Transport-Security") != ""; hsts != tc.want {
				t.Fatalf("HSTS set = %v, want %v", hsts, tc.want)
			}
		})
	}
}
