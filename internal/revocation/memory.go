package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内で無効化エントリを保持するStore。
// 読み取りが多く書き込みが少ないため、RWMutexで保護する。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time // fingerprint -> トークン本来の有効期限
}

// NewMemoryStore は空のMemoryStoreを生成する。
// テストではケースごとに独立したインスタンスを生成できる。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
	}
}

// Invalidate はトークンを無効化する。
// 同じトークンを複数回無効化した場合は、より長い保持期限を採用する。
func (s *MemoryStore) Invalidate(_ context.Context, token string, expiresAt time.Time) error {
	key := Fingerprint(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.entries[key]
	if exists && (current.IsZero() || (!expiresAt.IsZero() && current.After(expiresAt))) {
		return nil
	}
	s.entries[key] = expiresAt
	return nil
}

// IsRevoked はトークンが無効化済みかを返す。
func (s *MemoryStore) IsRevoked(_ context.Context, token string) (bool, error) {
	key := Fingerprint(token)

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.entries[key]
	return exists, nil
}

// Cleanup はトークン本来の有効期限を過ぎたエントリを削除し、削除件数を返す。
// 有効期限がゼロ値のエントリは削除しない。
func (s *MemoryStore) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, expiresAt := range s.entries {
		if expiresAt.IsZero() {
			continue
		}
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Purge はクリーンアップジョブから呼ばれ、期限切れエントリを削除する。
func (s *MemoryStore) Purge(_ context.Context, now time.Time) (int, error) {
	return s.Cleanup(now), nil
}

// Len は現在のエントリ数を返す。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
