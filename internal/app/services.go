package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/devsync/internal/ai"
	"github.com/hitoshi/devsync/internal/auth"
	"github.com/hitoshi/devsync/internal/chat"
	"github.com/hitoshi/devsync/internal/config"
	"github.com/hitoshi/devsync/internal/gateway"
	"github.com/hitoshi/devsync/internal/handler"
	"github.com/hitoshi/devsync/internal/metrics"
	"github.com/hitoshi/devsync/internal/middleware"
	"github.com/hitoshi/devsync/internal/repository"
	"github.com/hitoshi/devsync/internal/revocation"
	"github.com/hitoshi/devsync/internal/room"
	"github.com/hitoshi/devsync/internal/security"
	"github.com/hitoshi/devsync/internal/worker/cleanup"
)

const (
	// shutdownTimeout はグレースフルシャットダウンの最大待ち時間。
	shutdownTimeout = 30 * time.Second

	// aiHTTPTimeoutSlack はAIバックエンドへのHTTPタイムアウトに上乗せする猶予。
	// パイプラインのタイムアウトが先に発火するようにする。
	aiHTTPTimeoutSlack = 5 * time.Second

	redisPingTimeout = 5 * time.Second
)

// Services は結線済みのサーバー構成要素を保持する。
type Services struct {
	Handler     http.Handler
	Gateway     *gateway.Gateway
	Pipeline    *ai.Pipeline
	Registry    *room.Registry
	RateLimiter *middleware.RateLimiter
	// Cleanup はインメモリ無効化ストア使用時のみ設定される。
	Cleanup *cleanup.CleanupJob

	logger  *slog.Logger
	closers []io.Closer
}

// Close はServicesが保持するリソースを解放する。
func (s *Services) Close() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// Build は設定とDB接続から全依存関係を結線する。
// promRegにはメトリクスの登録先と/metricsの公開元を兼ねるレジストリを渡す。
func Build(cfg *config.Config, db *sql.DB, promReg *prometheus.Registry) (*Services, error) {
	log := slog.Default()
	collector := metrics.NewCollector(promReg)
	svc := &Services{logger: log}

	revocations, err := buildRevocationStore(cfg, svc)
	if err != nil {
		return nil, err
	}

	generator, err := buildGenerator(cfg, log)
	if err != nil {
		svc.Close()
		return nil, err
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	projects := repository.NewPostgresProjectRepo(db)

	svc.Registry = room.NewRegistry(log, collector)
	svc.Pipeline = ai.NewPipeline(generator, svc.Registry, cfg.AITimeout, log, collector)
	router := chat.NewRouter(svc.Registry, svc.Pipeline, chat.NewDirective(cfg.AIDirective), log, collector)

	svc.Gateway = gateway.NewGateway(verifier, revocations, projects, svc.Registry, router,
		gateway.Config{
			AllowedOrigin:  cfg.CORSAllowedOrigin,
			SendBuffer:     cfg.WSSendBuffer,
			WriteTimeout:   cfg.WSWriteTimeout,
			PongTimeout:    cfg.WSPongTimeout,
			MaxMessageSize: cfg.WSMaxMessageSize,
			MaxFrameSize:   cfg.WSMaxFrameSize,
			CloseOnReject:  cfg.WSCloseOnReject,
		},
		log, collector,
	)

	svc.RateLimiter = middleware.NewRateLimiter(rateLimiterConfig(cfg))

	svc.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       svc.RateLimiter,
		Verifier:          verifier,
		Revocations:       revocations,
		AuthConfig:        handler.AuthHandlerConfig{CookieSecure: cfg.CookieSecure},
		HealthChecker:     db,
		MetricsGatherer:   promReg,
		Gateway:           svc.Gateway,
	})

	return svc, nil
}

// buildRevocationStore はREDIS_URLが設定されていればRedis、なければインメモリの無効化ストアを返す。
func buildRevocationStore(cfg *config.Config, svc *Services) (handler.RevocationStore, error) {
	if cfg.RedisURL == "" {
		store := revocation.NewMemoryStore()
		svc.Cleanup = cleanup.NewCleanupJob(store, svc.logger, cfg.RevocationCleanupInterval)
		svc.logger.Info("using in-memory revocation store")
		return store, nil
	}

	client, err := revocation.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	svc.closers = append(svc.closers, client)
	svc.logger.Info("using redis revocation store")
	return revocation.NewRedisStore(client, ""), nil
}

// buildGenerator はAIバックエンドの設定からGeneratorを生成する。
// APIキーが未設定の場合は常に失敗するGeneratorを返し、@ai指示にはフォールバックで応答する。
func buildGenerator(cfg *config.Config, log *slog.Logger) (ai.Generator, error) {
	if !cfg.AIEnabled() {
		log.Warn("OPENAI_API_KEY is not set; AI requests will receive the fallback reply")
		return ai.DisabledGenerator{}, nil
	}

	guard := security.NewEgressGuard(cfg.AIAllowPrivateEndpoint)
	if cfg.OpenAIBaseURL != "" {
		if err := guard.ValidateEndpoint(cfg.OpenAIBaseURL); err != nil {
			return nil, fmt.Errorf("invalid OPENAI_BASE_URL: %w", err)
		}
	}

	return ai.NewOpenAIGenerator(ai.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		MaxTokens:   cfg.OpenAIMaxTokens,
		HTTPClient:  guard.NewClient(cfg.AITimeout + aiHTTPTimeoutSlack),
	}), nil
}

// rateLimiterConfig は分あたりのリクエスト数をトークンバケットの設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitHandshake > 0 {
		rl.HandshakeRate = rate.Limit(float64(cfg.RateLimitHandshake) / 60.0)
		rl.HandshakeBurst = cfg.RateLimitHandshake
	}
	return rl
}

// Serve はlnでHTTPサーバーを起動し、ctxがキャンセルされるまでブロックする。
// キャンセル後は新規接続の受付停止、全WebSocket接続の切断、処理中のAIリクエストの完了待ちの
// 順にシャットダウンし、最後にリソースを解放する。
func Serve(ctx context.Context, ln net.Listener, svc *Services) error {
	defer svc.Close()

	server := &http.Server{
		Handler:           svc.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.logger.Info("server listening", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if svc.Cleanup != nil {
		g.Go(func() error {
			svc.Cleanup.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		svc.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := svc.Gateway.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
		}
		if err := svc.Pipeline.Wait(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for AI requests: %w", err))
		}
		if len(errs) > 0 {
			return errors.Join(errs...)
		}

		svc.logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
