package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	mw := EchoAuthMiddleware(secret)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	})
	e := echo.New()

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		err := handler(e.NewContext(req, rec))
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", err)
		}
	})

	t.Run("bearer token", func(t *testing.T) {
		tok, err := SignJWT("user-1", secret, time.Hour)
		if err != nil {
			t.Fatalf("SignJWT: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Body.String() != "user-1" {
			t.Fatalf("subject = %q, want user-1", rec.Body.String())
		}
	})

	t.Run("cookie token", func(t *testing.T) {
		tok, err := SignJWT("user-2", secret, time.Hour)
		if err != nil {
			t.Fatalf("SignJWT: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "auth", Value: tok})
		rec := httptest.NewRecorder()
		if err := handler(e.NewContext(req, rec)); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if rec.Body.String() != "user-2" {
			t.Fatalf("subject = %q, want user-2", rec.Body.String())
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := SignJWT("user-3", []byte("other-secret"), time.Hour)
		if err != nil {
			t.Fatalf("SignJWT: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		errResult := handler(e.NewContext(req, rec))
		he, ok := errResult.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", errResult)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		tok, err := SignJWT("user-4", secret, -time.Minute)
		if err != nil {
			t.Fatalf("SignJWT: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		errResult := handler(e.NewContext(req, rec))
		he, ok := errResult.(*echo.HTTPError)
		if !ok || he.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %v", errResult)
		}
	})
}

func TestSubjectFromContext(t *testing.T) {
	ctx := ContextWithSubject(context.Background(), "user-1")
	sub, ok := SubjectFromContext(ctx)
	if !ok || sub != "user-1" {
		t.Fatalf("subject = %q, %v", sub, ok)
	}
	if _, ok := SubjectFromContext(nil); ok {
		t.Fatal("nil context must not yield a subject")
	}
}
