package auth

import (
	"net/http"
	"strings"
)

// TokenCookieName はトークンを保持するCookie名。
const TokenCookieName = "token"

// tokenQueryParam はハンドシェイク時にトークンを受け取るクエリパラメータ名。
const tokenQueryParam = "token"

// BearerToken はHTTP APIリクエストからトークンを取り出す。
// Authorizationヘッダー（Bearer）、tokenクッキーの順に参照する。
func BearerToken(r *http.Request) string {
	if token := fromAuthorizationHeader(r); token != "" {
		return token
	}
	return fromCookie(r)
}

// HandshakeToken は接続ハンドシェイクのリクエストからトークンを取り出す。
// ブラウザのWebSocket APIはヘッダーを付与できないため、
// Authorizationヘッダー、tokenクエリパラメータ、tokenクッキーの順に参照する。
func HandshakeToken(r *http.Request) string {
	if token := fromAuthorizationHeader(r); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); token != "" {
		return token
	}
	return fromCookie(r)
}

func fromAuthorizationHeader(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func fromCookie(r *http.Request) string {
	cookie, err := r.Cookie(TokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
