package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		cfg    Config
		method string
		path   string
		header string
		want   int
	}{
		{"disabled", Config{}, http.MethodPost, "/api/v1/horizon/refresh", "", http.StatusNoContent},
		{"get is public", Config{Enabled: true, Token: "s3cret"}, http.MethodGet, "/api/v1/passes", "", http.StatusNoContent},
		{"head is public", Config{Enabled: true, Token: "s3cret"}, http.MethodHead, "/api/v1/live", "", http.StatusNoContent},
		{"post without token", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/horizon/refresh", "", http.StatusUnauthorized},
		{"post wrong token", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/horizon/refresh", "Bearer nope", http.StatusUnauthorized},
		{"post wrong scheme", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/horizon/refresh", "Basic s3cret", http.StatusUnauthorized},
		{"post bare token", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/horizon/refresh", "s3cret", http.StatusUnauthorized},
		{"post valid token", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/horizon/refresh", "Bearer s3cret", http.StatusNoContent},
		{"scheme case-insensitive", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/horizon/refresh", "bearer s3cret", http.StatusNoContent},
		{"probe post exempt", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/healthz", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Middleware(tt.cfg)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code == http.StatusUnauthorized {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q", ct)
				}
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate challenge")
				}
			}
		})
	}
}
