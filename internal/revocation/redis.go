package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultKeyPrefix はRedis上の無効化エントリのキー接頭辞。
const defaultKeyPrefix = "devsync:revoked:"

// RedisStore はRedisに無効化エントリを保持するStore。
// エントリにはトークンの残り有効期間をTTLとして設定するため、クリーンアップは不要。
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore はRedisStoreを生成する。
// Redisクライアントのライフサイクルは呼び出し側が管理する。
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Invalidate はトークンを無効化する。
// 既に有効期限を過ぎたトークンは署名検証で拒否されるため書き込まない。
func (s *RedisStore) Invalidate(ctx context.Context, token string, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}

	if err := s.client.Set(ctx, s.key(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revoked token: %w", err)
	}
	return nil
}

// IsRevoked はトークンが無効化済みかを返す。
func (s *RedisStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) key(token string) string {
	return s.prefix + Fingerprint(token)
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
