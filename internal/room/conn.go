// Package room はプロジェクト単位のルームとメンバー接続を管理する。
// 接続はIDで索引されたアリーナに保持し、ルームは接続IDの集合のみを持つ。
package room

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/devsync/internal/model"
)

// Conn はルームに参加する1本の双方向接続を表す。
// 送信はバッファ付きチャネル経由で行い、書き込み側のトランスポートが
// Outboundから取り出してピアへ送る。
type Conn struct {
	ID       string
	Identity model.Identity
	RoomID   string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn は認証済みIdentityとルームに束縛されたConnを生成する。
// bufferが0以下の場合は1を使用する。
func NewConn(identity model.Identity, roomID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		ID:       uuid.NewString(),
		Identity: identity,
		RoomID:   roomID,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Deliver はペイロードを送信バッファに積む。ブロックしない。
// バッファが満杯、または接続が閉じている場合はfalseを返して破棄する。
func (c *Conn) Deliver(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound は送信待ちペイロードのチャネルを返す。
// チャネル自体はクローズされないため、Doneと併せてselectすること。
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done は接続が閉じられたときにクローズされるチャネルを返す。
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close は接続を閉じる。複数回呼び出しても安全。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
