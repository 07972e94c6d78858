// Package authtest はテスト用に外部の認証サービスと同じ形式のトークンを発行する。
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/devsync/internal/model"
)

// Issue はidentityを持つHS256トークンを発行する。ttlが負の場合は期限切れのトークンになる。
func Issue(t testing.TB, secret string, identity model.Identity, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   identity.Subject,
		"email": identity.Label,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
