package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateDisabled(t *testing.T) {
	service := NewService("   ")
	if service.Enabled() {
		t.Fatalf("blank token should disable auth")
	}
	if err := service.Authenticate(""); err != nil {
		t.Fatalf("disabled auth should accept everything, got %v", err)
	}
}

func TestAuthenticateOwnerToken(t *testing.T) {
	service := NewService("secret")
	if !service.Enabled() {
		t.Fatalf("auth should be enabled")
	}

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", "Bearer secret", nil},
		{"missing", "", ErrMissingToken},
		{"no scheme", "secret", ErrInvalidToken},
		{"wrong token", "Bearer nope", ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := service.Authenticate(tc.header)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	service := NewService("secret")
	var reached bool
	handler := service.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		reached = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil))
		if rec.Code != http.StatusUnauthorized || reached {
			t.Fatalf("unexpected result: code=%d reached=%v", rec.Code, reached)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden || reached {
			t.Fatalf("unexpected result: code=%d reached=%v", rec.Code, reached)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
		req.Header.Set("Authorization", "Bearer secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent || !reached {
			t.Fatalf("unexpected result: code=%d reached=%v", rec.Code, reached)
		}
	})
}
