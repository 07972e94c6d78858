// Package chat は受信メッセージのルーティングを提供する。
// 受信メッセージをルームへ中継し、AI指示を含む場合はAIパイプラインへ非同期に渡す。
package chat

import (
	"encoding/json"
	"log/slog"

	"github.com/hitoshi/devsync/internal/metrics"
	"github.com/hitoshi/devsync/internal/model"
	"github.com/hitoshi/devsync/internal/room"
)

// Broadcaster はルームへの配信インターフェース。
type Broadcaster interface {
	Broadcast(roomID string, msg model.Message, excludeConnID string) int
}

// Dispatcher はAIパイプラインの非同期起動インターフェース。
// Dispatchは呼び出し元をブロックしてはならない。
type Dispatcher interface {
	Dispatch(prompt, roomID string)
}

// inboundMessage はクライアントから受信するメッセージの形式。
// 送信者はサーバーが認証済みIdentityから付与するため、クライアント指定のsenderは無視する。
type inboundMessage struct {
	Text *string `json:"text"`
}

// Router は受信メッセージを分類し、中継とAIパイプラインの起動を行う。
type Router struct {
	broadcaster Broadcaster
	dispatcher  Dispatcher
	directive   *Directive
	logger      *slog.Logger
	metrics     metrics.MetricsCollector
}

// NewRouter はRouterの新しいインスタンスを生成する。
func NewRouter(
	broadcaster Broadcaster,
	dispatcher Dispatcher,
	directive *Directive,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Router {
	if directive == nil {
		directive = NewDirective(DefaultDirective)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		directive:   directive,
		logger:      logger,
		metrics:     metrics.OrNop(m),
	}
}

// HandleInbound は接続から受信した1件のメッセージを処理する。
// 形式が不正なメッセージはその接続分のみ破棄し、接続は維持する。
// 正しいメッセージは送信者以外のメンバーへ中継し、AI指示を含む場合は
// プロンプトをAIパイプラインへ渡す。AIの応答は待たない。
func (r *Router) HandleInbound(conn *room.Conn, raw []byte) {
	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil || in.Text == nil {
		r.metrics.RecordMessageDropped("malformed")
		attrs := []any{
			slog.String("room_id", conn.RoomID),
			slog.String("conn_id", conn.ID),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.logger.Warn("不正な形式のメッセージを破棄しました", attrs...)
		return
	}
	r.metrics.RecordMessageReceived()

	msg := model.NewUserMessage(*in.Text, conn.Identity)
	r.broadcaster.Broadcast(conn.RoomID, msg, conn.ID)

	prompt, ok := r.directive.Parse(msg.Text)
	if !ok {
		return
	}

	r.logger.Info("AI指示を受け付けました",
		slog.String("room_id", conn.RoomID),
		slog.String("user_id", conn.Identity.Subject),
		slog.Int("prompt_length", len(prompt)),
	)
	r.dispatcher.Dispatch(prompt, conn.RoomID)
}
