// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
// ハンドシェイク拒否理由はそれぞれ異なるコードで観測できる。
const (
	ErrCodeProjectIDRequired    = "PROJECT_ID_REQUIRED"
	ErrCodeInvalidProjectID     = "INVALID_PROJECT_ID"
	ErrCodeTokenRequired        = "TOKEN_REQUIRED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeTokenExpired         = "TOKEN_EXPIRED"
	ErrCodeTokenRevoked         = "TOKEN_REVOKED"
	ErrCodeProjectNotFound      = "PROJECT_NOT_FOUND"
	ErrCodeHandshakeUnavailable = "HANDSHAKE_UNAVAILABLE"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewProjectIDRequiredError はプロジェクトID未指定エラーを生成する。
func NewProjectIDRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeProjectIDRequired,
		Message:  "プロジェクトIDが指定されていません。",
		Category: "validation",
		Action:   "接続URLのprojectIdパラメータにプロジェクトIDを指定してください。",
	}
}

// NewInvalidProjectIDError は不正な形式のプロジェクトIDエラーを生成する。
func NewInvalidProjectIDError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProjectID,
		Message:  fmt.Sprintf("プロジェクトIDの形式が不正です: %s", projectID),
		Category: "validation",
		Action:   "正しいプロジェクトIDを指定してください。",
	}
}

// NewTokenRequiredError はトークン未指定エラーを生成する。
func NewTokenRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenRequired,
		Message:  "認証トークンが指定されていません。",
		Category: "auth",
		Action:   "ログインしてから再接続してください。",
	}
}

// NewInvalidTokenError は署名不正・形式不正なトークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewTokenExpiredError は有効期限切れトークンのエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "認証トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewTokenRevokedError は無効化済みトークンのエラーを生成する。
func NewTokenRevokedError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenRevoked,
		Message:  "認証トークンは無効化されています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(projectID string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("指定されたプロジェクトが見つかりません: %s", projectID),
		Category: "project",
		Action:   "プロジェクトIDを確認してください。",
	}
}

// NewHandshakeUnavailableError は認証に必要な依存サービスの障害エラーを生成する。
func NewHandshakeUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeHandshakeUnavailable,
		Message:  "接続の認証処理を完了できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再接続してください。",
	}
}

// NewUnauthorizedError はHTTP APIの認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ残す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
