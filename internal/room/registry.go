package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/devsync/internal/metrics"
	"github.com/hitoshi/devsync/internal/model"
)

// ErrRoomMismatch は接続が束縛されたルームと異なるルームへの参加を表す。
var ErrRoomMismatch = errors.New("connection is bound to a different room")

// Registry はルームIDから参加中の接続集合への対応を管理する。
// 参加・退出は排他ロック、配信は共有ロックの下で行うため、
// 配信が更新途中のメンバー集合を観測することはない。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn               // 接続ID -> 接続
	rooms map[string]map[string]struct{} // ルームID -> 接続IDの集合

	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry(logger *slog.Logger, m metrics.MetricsCollector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:   make(map[string]*Conn),
		rooms:   make(map[string]map[string]struct{}),
		logger:  logger,
		metrics: metrics.OrNop(m),
	}
}

// Join は接続をルームのメンバーに加える。ルームが存在しなければ作成する。
// 同じ接続の再参加は何もしない。
func (r *Registry) Join(roomID string, c *Conn) error {
	if c.RoomID != roomID {
		return fmt.Errorf("%w: bound=%s requested=%s", ErrRoomMismatch, c.RoomID, roomID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; ok {
		return nil
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[c.ID] = struct{}{}
	r.conns[c.ID] = c
	r.metrics.RecordConnectionOpened()

	return nil
}

// Leave は接続をルームから取り除き、取り除いた場合にtrueを返す。
// 最後のメンバーが抜けたルームは即座に破棄する。
// 存在しない接続の退出は何もせず、デバッグログのみ出力する。
func (r *Registry) Leave(roomID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok || c.RoomID != roomID {
		r.logger.Debug("退出対象の接続はルームに存在しません",
			slog.String("room_id", roomID),
			slog.String("conn_id", connID),
		)
		return false
	}

	delete(r.conns, connID)
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	r.metrics.RecordConnectionClosed()

	return true
}

// Broadcast はルームの現メンバーにメッセージを配信し、配信できた数を返す。
// excludeConnIDに一致する接続には配信しない。空文字列なら全員に配信する。
// 各メンバーへの送信はブロックせず、送信バッファが満杯のメンバー分は破棄する。
func (r *Registry) Broadcast(roomID string, msg model.Message, excludeConnID string) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("メッセージのエンコードに失敗しました",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()),
		)
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id := range r.rooms[roomID] {
		if id == excludeConnID {
			continue
		}
		c := r.conns[id]
		if c.Deliver(payload) {
			delivered++
			continue
		}
		r.metrics.RecordMessageDropped("slow_consumer")
		r.logger.Warn("送信バッファが満杯のためメッセージを破棄しました",
			slog.String("room_id", roomID),
			slog.String("conn_id", id),
			slog.String("user_id", c.Identity.Subject),
		)
	}
	r.metrics.RecordDeliveries(delivered)

	return delivered
}

// MemberCount はルームの現メンバー数を返す。
func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount はメンバーが1人以上いるルームの数を返す。
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CloseAll は全接続を閉じ、閉じた接続数を返す。
// メンバーシップの除去は各接続のトランスポートがLeaveで行う。
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		c.Close()
	}
	return len(r.conns)
}
