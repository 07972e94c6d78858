package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/devsync/internal/auth"
	"github.com/hitoshi/devsync/internal/middleware"
	"github.com/hitoshi/devsync/internal/model"
)

// --- モック定義 ---

type mockRevoker struct {
	invalidateFn func(ctx context.Context, token string, expiresAt time.Time) error
}

func (m *mockRevoker) Invalidate(ctx context.Context, token string, expiresAt time.Time) error {
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, token, expiresAt)
	}
	return nil
}

var _ TokenRevoker = (*mockRevoker)(nil)

func withCredential(r *http.Request, cred middleware.Credential) *http.Request {
	return r.WithContext(middleware.ContextWithCredential(r.Context(), cred))
}

func testCredential() middleware.Credential {
	return middleware.Credential{
		Identity:  model.Identity{Subject: "user-1", Label: "user1@example.com"},
		Token:     "token-abc",
		ExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// --- Logout ---

func TestLogout_RevokesTokenUntilExpiry(t *testing.T) {
	var gotToken string
	var gotExpiry time.Time
	revoker := &mockRevoker{
		invalidateFn: func(ctx context.Context, token string, expiresAt time.Time) error {
			gotToken = token
			gotExpiry = expiresAt
			return nil
		},
	}
	h := NewAuthHandler(revoker, AuthHandlerConfig{CookieSecure: true})
	cred := testCredential()

	req := withCredential(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), cred)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotToken != cred.Token {
		t.Errorf("revoked token = %q, want %q", gotToken, cred.Token)
	}
	if !gotExpiry.Equal(cred.ExpiresAt) {
		t.Errorf("expiresAt = %v, want %v", gotExpiry, cred.ExpiresAt)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["message"] != "logged out" {
		t.Errorf("message = %q, want %q", body["message"], "logged out")
	}

	// トークンCookieがクリアされること
	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.TokenCookieName {
			cleared = c
		}
	}
	if cleared == nil {
		t.Fatal("expected token cookie to be cleared")
	}
	if cleared.MaxAge >= 0 {
		t.Errorf("cookie MaxAge = %d, want negative", cleared.MaxAge)
	}
	if !cleared.Secure {
		t.Error("cookie Secure = false, want true")
	}
}

func TestLogout_StoreFailure_Returns500(t *testing.T) {
	revoker := &mockRevoker{
		invalidateFn: func(context.Context, string, time.Time) error {
			return errors.New("redis: connection refused")
		},
	}
	h := NewAuthHandler(revoker, AuthHandlerConfig{})

	req := withCredential(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), testCredential())
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.TokenCookieName {
			t.Error("cookie should not be cleared when revocation failed")
		}
	}
}

func TestLogout_WithoutCredential_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockRevoker{}, AuthHandlerConfig{})

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

// --- Me ---

func TestMe_ReturnsSender(t *testing.T) {
	h := NewAuthHandler(&mockRevoker{}, AuthHandlerConfig{})

	req := withCredential(httptest.NewRequest(http.MethodGet, "/auth/me", nil), testCredential())
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["id"] != "user-1" || body["label"] != "user1@example.com" {
		t.Errorf("body = %v, want id=user-1 label=user1@example.com", body)
	}
}

func TestMe_WithoutCredential_Returns401(t *testing.T) {
	h := NewAuthHandler(&mockRevoker{}, AuthHandlerConfig{})

	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
