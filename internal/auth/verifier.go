// Package auth はトークン検証とトークンの受け渡し経路を提供する。
// トークンの発行・パスワード管理は外部の認証サービスが担う。
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/devsync/internal/model"
)

var (
	// ErrInvalidToken は署名が不正なトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れのトークンを表す。
	ErrExpiredToken = errors.New("token has expired")
	// ErrMalformedToken は構造またはクレームが不正なトークンを表す。
	ErrMalformedToken = errors.New("malformed token")
)

// Claims は外部の認証サービスが発行するトークンのクレーム。
// subjectが空の場合はemailを識別子として扱う。
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier は共有シークレットでHS256トークンを検証する。
// I/Oを伴わない純粋な検証のみを行い、無効化の確認は呼び出し側が行う。
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier はVerifierを生成する。
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Verify はトークンの署名と有効期限を検証し、Identityとトークンの有効期限を返す。
// 失敗時はErrInvalidToken、ErrExpiredToken、ErrMalformedTokenのいずれかをラップして返す。
func (v *Verifier) Verify(tokenString string) (model.Identity, time.Time, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return model.Identity{}, time.Time{}, classify(err)
	}
	if !token.Valid {
		return model.Identity{}, time.Time{}, ErrInvalidToken
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.Email
	}
	if subject == "" {
		return model.Identity{}, time.Time{}, fmt.Errorf("%w: missing subject and email claims", ErrMalformedToken)
	}

	label := claims.Email
	if label == "" {
		label = subject
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return model.Identity{Subject: subject, Label: label}, expiresAt, nil
}

// classify はjwtライブラリのエラーを検証失敗の種類に分類する。
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenInvalidClaims) && !errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
