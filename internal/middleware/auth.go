// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/devsync/internal/auth"
	"github.com/hitoshi/devsync/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// credentialContextKey はリクエストコンテキストに認証情報を格納するためのキー。
var credentialContextKey = contextKey("credential")

// TokenVerifier はトークン検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(token string) (model.Identity, time.Time, error)
}

// RevocationChecker は無効化済みトークンの確認に必要なインターフェース。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Credential は認証ミドルウェアを通過したリクエストの認証情報。
type Credential struct {
	Identity  model.Identity
	Token     string
	ExpiresAt time.Time
}

// NewAuthMiddleware はCookieまたはAuthorizationヘッダーのBearerトークンを検証し、
// 認証情報をリクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い・無効・無効化済みの場合は401 Unauthorizedを返す。
// 無効化済みトークンがCookieで送られてきた場合はCookieを削除する。
func NewAuthMiddleware(verifier TokenVerifier, revocations RevocationChecker, cookieSecure bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			revoked, err := revocations.IsRevoked(r.Context(), token)
			if err != nil {
				slog.Error("failed to check token revocation",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewHandshakeUnavailableError())
				return
			}
			if revoked {
				if c, err := r.Cookie(auth.TokenCookieName); err == nil && c.Value == token {
					ClearTokenCookie(w, cookieSecure)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenRevokedError())
				return
			}

			identity, expiresAt, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewTokenExpiredError())
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			SetLogUserID(r.Context(), identity.Subject)
			ctx := ContextWithCredential(r.Context(), Credential{
				Identity:  identity,
				Token:     token,
				ExpiresAt: expiresAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClearTokenCookie はトークンCookieを削除するSet-Cookieヘッダーを書き込む。
func ClearTokenCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// CredentialFromContext はリクエストコンテキストから認証情報を取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialContextKey).(Credential)
	return cred, ok
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	cred, ok := CredentialFromContext(ctx)
	if !ok || cred.Identity.Subject == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return cred.Identity.Subject, nil
}

// ContextWithCredential はコンテキストに認証情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}
