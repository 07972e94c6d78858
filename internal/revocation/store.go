// Package revocation はログアウト等で明示的に無効化されたトークンを管理する。
//
// 無効化エントリはトークン本来の有効期限まで保持すれば十分であり、
// 期限を過ぎたトークンは署名検証の段階で拒否される。
//
// 既知の制約: MemoryStoreはプロセスの寿命と同じだけ保持されるため、
// 再起動すると無効化済みトークンは本来の有効期限まで再び有効になる。
// 再起動をまたいで保持する場合はRedisStoreを使用する（REDIS_URL）。
package revocation

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Store は無効化済みトークンの集合を表す。
// すべての接続の認証経路から並行に呼ばれる。
type Store interface {
	// Invalidate はトークンを無効化する。冪等。
	// expiresAtはトークン本来の有効期限で、ゼロ値の場合は無期限に保持する。
	Invalidate(ctx context.Context, token string, expiresAt time.Time) error
	// IsRevoked はトークンが無効化済みかを返す。
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Fingerprint はトークンのBLAKE3ダイジェストを16進文字列で返す。
// ストアはベアラートークンそのものを保持しない。
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
