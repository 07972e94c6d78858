package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/devsync/internal/auth"
	"github.com/hitoshi/devsync/internal/middleware"
	"github.com/hitoshi/devsync/internal/model"
	"github.com/hitoshi/devsync/internal/room"
)

// ProjectIDParam はプロジェクトIDを受け取るクエリパラメータ名。
const ProjectIDParam = "projectId"

// rejectCloseCodeBase はCloseOnReject時のクローズコードの基準値。
// クローズコードは4000にHTTPステータスを加えた値になる（例: 4401）。
const rejectCloseCodeBase = 4000

// ServeHTTP は接続ハンドシェイクを認証し、WebSocketにアップグレードする。
// 拒否した場合はアップグレード前に統一エラーフォーマットで応答し、接続は作成しない。
// CloseOnRejectが有効な場合、WebSocketクライアントにはアップグレード直後のクローズフレームで
// 拒否理由を通知する。この場合もルームには参加させない。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := Handshake{
		ProjectID: r.URL.Query().Get(ProjectIDParam),
		Token:     auth.HandshakeToken(r),
	}

	var (
		admission *Admission
		rejection *Rejection
	)
	if g.isClosing() {
		rejection = reject(http.StatusServiceUnavailable, model.NewHandshakeUnavailableError(), errClosing)
	} else {
		admission, rejection = g.Authenticate(r.Context(), h)
	}
	if rejection != nil {
		g.rejectHandshake(w, r, h, rejection)
		return
	}

	middleware.SetLogUserID(r.Context(), admission.Identity.Subject)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		g.logger.Warn("WebSocketへのアップグレードに失敗しました",
			slog.String("project_id", admission.RoomID),
			slog.String("error", err.Error()),
		)
		return
	}

	conn := room.NewConn(admission.Identity, admission.RoomID, g.config.SendBuffer)
	if err := g.admit(admission.RoomID, conn); err != nil {
		g.logger.Warn("ルームへの参加に失敗しました",
			slog.String("room_id", admission.RoomID),
			slog.String("error", err.Error()),
		)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(g.config.WriteTimeout),
		)
		ws.Close()
		return
	}

	g.logger.Info("接続がルームに参加しました",
		slog.String("room_id", admission.RoomID),
		slog.String("conn_id", conn.ID),
		slog.String("user_id", admission.Identity.Subject),
	)

	s := &session{gateway: g, ws: ws, conn: conn}
	go func() {
		defer g.pumps.Done()
		s.writePump()
	}()
	go func() {
		defer g.pumps.Done()
		s.readPump()
	}()
}

// rejectHandshake は拒否を記録し、クライアントへ拒否理由を返す。
func (g *Gateway) rejectHandshake(w http.ResponseWriter, r *http.Request, h Handshake, rejection *Rejection) {
	g.metrics.RecordHandshakeRejected(rejection.Reason())
	attrs := []any{
		slog.String("reason", rejection.Reason()),
		slog.String("project_id", h.ProjectID),
	}
	if rejection.Cause != nil {
		attrs = append(attrs, slog.String("error", rejection.Cause.Error()))
	}
	if rejection.Status >= http.StatusInternalServerError {
		g.logger.Error("ハンドシェイクを完了できませんでした", attrs...)
	} else {
		g.logger.Warn("ハンドシェイクを拒否しました", attrs...)
	}

	if !g.config.CloseOnReject || !websocket.IsWebSocketUpgrade(r) {
		middleware.WriteErrorResponse(w, rejection.Status, rejection.Err)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(rejectCloseCodeBase+rejection.Status, rejection.Reason()),
		time.Now().Add(g.config.WriteTimeout),
	)
}

// session は1本のWebSocket接続の読み書きを管理する。
// ws への書き込みはwritePumpのみが行う。
type session struct {
	gateway *Gateway
	ws      *websocket.Conn
	conn    *room.Conn

	releaseOnce sync.Once
}

// release はルームからの退出と接続の破棄を1回だけ行う。
// 読み込み側と書き込み側のどちらが先に終了しても呼ばれる。
func (s *session) release() {
	s.releaseOnce.Do(func() {
		s.gateway.registry.Leave(s.conn.RoomID, s.conn.ID)
		s.conn.Close()
		s.ws.Close()

		s.gateway.logger.Info("接続がルームから退出しました",
			slog.String("room_id", s.conn.RoomID),
			slog.String("conn_id", s.conn.ID),
			slog.String("user_id", s.conn.Identity.Subject),
		)
	})
}

// readPump はピアからのメッセージを順に読み込み、ルーターに渡す。
// 同一接続からのメッセージは到着順に処理される。
// MaxMessageSizeを超えるメッセージは破棄して読み込みを続け、
// readLimitを超えた場合のみ接続を切断する。
func (s *session) readPump() {
	defer s.release()

	cfg := s.gateway.config
	if limit := cfg.readLimit(); limit > 0 {
		s.ws.SetReadLimit(limit)
	}
	s.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		messageType, r, err := s.ws.NextReader()
		if err != nil {
			s.logReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			if _, err := io.Copy(io.Discard, r); err != nil {
				s.logReadError(err)
				return
			}
			s.gateway.metrics.RecordMessageDropped("non_text_frame")
			continue
		}

		data, err := readLimited(r, cfg.MaxMessageSize)
		if errors.Is(err, errMessageTooLarge) {
			s.gateway.metrics.RecordMessageDropped("oversized")
			s.gateway.logger.Warn("サイズ上限を超えたメッセージを破棄しました",
				slog.String("room_id", s.conn.RoomID),
				slog.String("conn_id", s.conn.ID),
				slog.Int64("max_bytes", cfg.MaxMessageSize),
			)
			continue
		}
		if err != nil {
			s.logReadError(err)
			return
		}
		s.gateway.inbound.HandleInbound(s.conn, data)
	}
}

func (s *session) logReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		s.gateway.logger.Warn("接続が予期せず切断されました",
			slog.String("conn_id", s.conn.ID),
			slog.String("error", err.Error()),
		)
	}
}

// errMessageTooLarge はメッセージがサイズ上限を超えたことを表す。
var errMessageTooLarge = errors.New("message exceeds size limit")

// readLimited はメッセージを最大limitバイトまで読み込む。
// 上限を超えた場合は残りを読み捨ててerrMessageTooLargeを返す。limitが0以下の場合は無制限。
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= limit {
		return data, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	return nil, errMessageTooLarge
}

// writePump は送信バッファのメッセージをピアへ書き込み、定期的にpingを送る。
func (s *session) writePump() {
	cfg := s.gateway.config
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		s.release()
	}()

	for {
		select {
		case payload := <-s.conn.Outbound():
			s.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.conn.Done():
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(cfg.WriteTimeout),
			)
			return
		}
	}
}
