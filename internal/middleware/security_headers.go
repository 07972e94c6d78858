package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSONとWebSocketのみを返すAPI向けのセキュリティヘッダーを付与する。
// HTMLを返さないため、CSPはすべてのリソース読み込みとフレーム埋め込みを禁止する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			// 認証済みの応答をキャッシュさせない
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
