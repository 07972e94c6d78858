// Package gateway は接続ハンドシェイクの認証と、認証済み接続のルームへの登録を行う。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/devsync/internal/auth"
	"github.com/hitoshi/devsync/internal/metrics"
	"github.com/hitoshi/devsync/internal/middleware"
	"github.com/hitoshi/devsync/internal/model"
	"github.com/hitoshi/devsync/internal/room"
)

// TokenVerifier はトークン検証のインターフェース。
type TokenVerifier interface {
	Verify(token string) (model.Identity, time.Time, error)
}

// RevocationChecker は無効化済みトークンの確認インターフェース。
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// ProjectFinder はプロジェクトの参照インターフェース。
// 見つからない場合はnil, nilを返す。
type ProjectFinder interface {
	FindByID(ctx context.Context, id string) (*model.Project, error)
}

// InboundHandler は接続から受信したメッセージを処理するインターフェース。
type InboundHandler interface {
	HandleInbound(conn *room.Conn, raw []byte)
}

// Handshake は接続時に提示されたプロジェクトIDとトークン。
type Handshake struct {
	ProjectID string
	Token     string
}

// Admission はハンドシェイクを通過した接続の束縛先。
type Admission struct {
	Identity model.Identity
	RoomID   string
	Project  *model.Project
}

// Rejection はハンドシェイクの拒否理由。
// Errのコードが拒否理由ごとに異なり、クライアントとメトリクスから観測できる。
type Rejection struct {
	Status int
	Err    *model.APIError
	Cause  error
}

// Error はerrorインターフェースを実装する。
func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %v", r.Err.Error(), r.Cause)
	}
	return r.Err.Error()
}

// Unwrap は拒否の原因となったエラーを返す。
func (r *Rejection) Unwrap() error {
	return r.Cause
}

// Reason は拒否理由のコードを返す。
func (r *Rejection) Reason() string {
	return r.Err.Code
}

func reject(status int, apiErr *model.APIError, cause error) *Rejection {
	return &Rejection{Status: status, Err: apiErr, Cause: cause}
}

// Config はWebSocketトランスポートの設定。
type Config struct {
	AllowedOrigin  string        // 許可するOrigin（カンマ区切り）。"*"は全て許可
	SendBuffer     int           // 接続ごとの送信バッファ（メッセージ数）
	WriteTimeout   time.Duration // 1メッセージの書き込みタイムアウト
	PongTimeout    time.Duration // pongを待つ最大時間
	MaxMessageSize int64         // 受信メッセージの最大バイト数。超えたメッセージは破棄する
	MaxFrameSize   int64         // 受信メッセージの絶対上限。超えた場合は接続を切断する
	CloseOnReject  bool          // ハンドシェイク拒否をアップグレード後のクローズフレームで通知する
}

// DefaultConfig はデフォルトのトランスポート設定を返す。
func DefaultConfig() Config {
	return Config{
		AllowedOrigin:  "http://localhost:5173",
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
		MaxFrameSize:   1024 * 1024,
	}
}

// readLimit は接続を切断する受信サイズの上限を返す。0は無制限。
func (c Config) readLimit() int64 {
	if c.MaxFrameSize <= 0 {
		return 0
	}
	return max(c.MaxFrameSize, c.MaxMessageSize)
}

// pingPeriod はpongタイムアウトの9/10の間隔でpingを送る。
func (c Config) pingPeriod() time.Duration {
	return c.PongTimeout * 9 / 10
}

// Gateway は接続ハンドシェイクを認証し、認証済み接続をルームに登録する。
type Gateway struct {
	verifier       TokenVerifier
	revocations    RevocationChecker
	projects       ProjectFinder
	registry       *room.Registry
	inbound        InboundHandler
	upgrader       websocket.Upgrader
	config         Config
	allowedOrigins []string // config.AllowedOriginを分解したもの
	logger         *slog.Logger
	metrics        metrics.MetricsCollector

	mu      sync.Mutex
	closing bool // Shutdown開始後はtrue。以降の参加を受け付けない
	pumps   sync.WaitGroup
}

// errClosing はShutdown開始後に参加しようとした接続に返す。
var errClosing = errors.New("gateway is shutting down")

// NewGateway はGatewayの新しいインスタンスを生成する。
func NewGateway(
	verifier TokenVerifier,
	revocations RevocationChecker,
	projects ProjectFinder,
	registry *room.Registry,
	inbound InboundHandler,
	config Config,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultConfig().PongTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	g := &Gateway{
		verifier:       verifier,
		revocations:    revocations,
		projects:       projects,
		registry:       registry,
		inbound:        inbound,
		config:         config,
		allowedOrigins: middleware.ParseOrigins(config.AllowedOrigin),
		logger:         logger,
		metrics:        metrics.OrNop(m),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// Authenticate はハンドシェイクを検証する。
// プロジェクトIDの形式、トークンの有無、トークンの署名と有効期限、無効化の有無、
// プロジェクトの存在の順に確認し、最初に失敗した理由で拒否する。
// 副作用を持たず、ルームレジストリには触れない。
func (g *Gateway) Authenticate(ctx context.Context, h Handshake) (*Admission, *Rejection) {
	if h.ProjectID == "" {
		return nil, reject(http.StatusBadRequest, model.NewProjectIDRequiredError(), nil)
	}
	parsed, err := uuid.Parse(h.ProjectID)
	if err != nil {
		return nil, reject(http.StatusBadRequest, model.NewInvalidProjectIDError(h.ProjectID), err)
	}
	projectID := parsed.String()

	if h.Token == "" {
		return nil, reject(http.StatusUnauthorized, model.NewTokenRequiredError(), nil)
	}

	identity, _, err := g.verifier.Verify(h.Token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, reject(http.StatusUnauthorized, model.NewTokenExpiredError(), err)
		}
		return nil, reject(http.StatusUnauthorized, model.NewInvalidTokenError(), err)
	}

	// 署名が正しくても無効化の確認は必ず行う
	revoked, err := g.revocations.IsRevoked(ctx, h.Token)
	if err != nil {
		return nil, reject(http.StatusServiceUnavailable, model.NewHandshakeUnavailableError(),
			fmt.Errorf("failed to check revocation: %w", err))
	}
	if revoked {
		return nil, reject(http.StatusUnauthorized, model.NewTokenRevokedError(), nil)
	}

	project, err := g.projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, reject(http.StatusServiceUnavailable, model.NewHandshakeUnavailableError(),
			fmt.Errorf("failed to find project: %w", err))
	}
	if project == nil {
		return nil, reject(http.StatusNotFound, model.NewProjectNotFoundError(projectID), nil)
	}

	return &Admission{
		Identity: identity,
		RoomID:   project.RoomID(),
		Project:  project,
	}, nil
}

// Shutdown は全接続を閉じ、各接続のトランスポート処理の終了を待つ。
// Shutdown開始後に完了したハンドシェイクはルームに参加させずに閉じる。
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	closed := g.registry.CloseAll()
	g.logger.Info("全接続を閉じています", slog.Int("connections", closed))

	done := make(chan struct{})
	go func() {
		g.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}
}

// isClosing はShutdownが開始されたかを返す。
func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

// admit は接続をルームに登録し、読み書きの処理数を加算する。
// Shutdownとの競合を避けるため、closingの確認から加算までを同じロックの中で行う。
func (g *Gateway) admit(roomID string, conn *room.Conn) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return errClosing
	}
	if err := g.registry.Join(roomID, conn); err != nil {
		return err
	}
	g.pumps.Add(2)
	return nil
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return middleware.OriginAllowed(g.allowedOrigins, origin)
}
