package middleware

import (
	"net/http"
	"strings"
)

// ParseOrigins はカンマ区切りのオリジン一覧を分解する。空要素は除く。
func ParseOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimRight(o, "/"))
		}
	}
	return origins
}

// OriginAllowed はoriginが許可リストに含まれるか判定する。"*"はすべてに一致する。
func OriginAllowed(allowed []string, origin string) bool {
	origin = strings.TrimRight(origin, "/")
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// NewCORSMiddleware はカンマ区切りで指定されたオリジンに対するCORSミドルウェアを返す。
// credentialsを送るため、許可したリクエストのOriginをそのまま返し、"*"は返さない。
// Originヘッダーのないリクエストには先頭の許可オリジンを返す。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	allowed := ParseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			switch {
			case origin == "" && len(allowed) > 0 && allowed[0] != "*":
				h.Set("Access-Control-Allow-Origin", allowed[0])
			case origin != "" && OriginAllowed(allowed, origin):
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
