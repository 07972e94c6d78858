// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/devsync/internal/middleware"
	"github.com/hitoshi/devsync/internal/model"
)

// TokenRevoker はトークンを無効化するインターフェース。
type TokenRevoker interface {
	Invalidate(ctx context.Context, token string, expiresAt time.Time) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure bool
}

// AuthHandler はトークン認証関連のHTTPハンドラー。
// 認証ミドルウェアの後ろに配置する。
type AuthHandler struct {
	revoker TokenRevoker
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(revoker TokenRevoker, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		revoker: revoker,
		config:  config,
	}
}

// Logout は提示されたトークンを無効化し、トークンCookieを削除する。
// 無効化エントリはトークン本来の有効期限まで保持される。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cred, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.revoker.Invalidate(r.Context(), cred.Token, cred.ExpiresAt); err != nil {
		slog.Error("failed to revoke token",
			slog.String("user_id", cred.Identity.Subject),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.ClearTokenCookie(w, h.config.CookieSecure)

	slog.Info("token revoked",
		slog.String("user_id", cred.Identity.Subject),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me は検証済みトークンの身元を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cred, ok := middleware.CredentialFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, cred.Identity.Sender())
}
