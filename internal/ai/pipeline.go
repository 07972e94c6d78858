package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/devsync/internal/metrics"
	"github.com/hitoshi/devsync/internal/model"
)

// FallbackText はバックエンドが失敗した場合にルームへ配信する固定文言。
const FallbackText = "Sorry, I encountered an error while processing your request."

// DefaultTimeout はバックエンド呼び出しのデフォルトの待ち時間上限。
const DefaultTimeout = 30 * time.Second

// Outcome はAIリクエスト1件の終了状態。
type Outcome string

const (
	// OutcomeDelivered はバックエンドの応答を配信したことを示す。
	OutcomeDelivered Outcome = "delivered"
	// OutcomeFallback はフォールバック文言を配信したことを示す。
	OutcomeFallback Outcome = "fallback"
)

// Broadcaster はルームへの配信インターフェース。
type Broadcaster interface {
	Broadcast(roomID string, msg model.Message, excludeConnID string) int
}

// Pipeline はAIリクエストを処理し、結果をルームへ配信する。
// 1件のリクエストにつき、成功・失敗にかかわらずAI送信者のメッセージをちょうど1回配信する。
type Pipeline struct {
	generator   Generator
	broadcaster Broadcaster
	timeout     time.Duration
	logger      *slog.Logger
	metrics     metrics.MetricsCollector

	inflight sync.WaitGroup
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
// timeoutが0以下の場合はDefaultTimeoutを使用する。
func NewPipeline(
	generator Generator,
	broadcaster Broadcaster,
	timeout time.Duration,
	logger *slog.Logger,
	m metrics.MetricsCollector,
) *Pipeline {
	if generator == nil {
		generator = DisabledGenerator{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		generator:   generator,
		broadcaster: broadcaster,
		timeout:     timeout,
		logger:      logger,
		metrics:     metrics.OrNop(m),
	}
}

// Dispatch はAIリクエストを別のgoroutineで処理し、すぐに戻る。
// 要求元の接続が切断されてもリクエストはキャンセルされない。
func (p *Pipeline) Dispatch(prompt, roomID string) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.Augment(context.Background(), prompt, roomID)
	}()
}

// Augment はバックエンドを呼び出し、結果をルームの全メンバーへ配信する。
// バックエンドのエラー、タイムアウト、パニック、空の応答はすべてフォールバック文言の配信になる。
func (p *Pipeline) Augment(ctx context.Context, prompt, roomID string) Outcome {
	start := time.Now()
	text, err := p.generate(ctx, prompt)
	elapsed := time.Since(start)
	p.metrics.RecordAILatency(elapsed)

	outcome := OutcomeDelivered
	if err != nil {
		outcome = OutcomeFallback
		text = FallbackText
	}
	p.metrics.RecordAIRequest(string(outcome))

	delivered := p.broadcaster.Broadcast(roomID, model.NewAIMessage(text), "")

	attrs := []any{
		slog.String("room_id", roomID),
		slog.String("outcome", string(outcome)),
		slog.Int("delivered", delivered),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		p.logger.Warn("AI応答の生成に失敗したためフォールバックを配信しました", attrs...)
	} else {
		p.logger.Info("AI応答を配信しました", attrs...)
	}
	return outcome
}

// generate はタイムアウト付きでバックエンドを呼び出す。
// バックエンドがコンテキストを無視しても、タイムアウト後は結果を待たずに戻る。
func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	// バッファ1: タイムアウト後に完了したgoroutineをブロックさせない
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("generation backend panicked: %v", rec)}
			}
		}()
		text, err := p.generator.Generate(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("failed to generate response: %w", r.err)
		}
		if strings.TrimSpace(r.text) == "" {
			return "", ErrEmptyResponse
		}
		return r.text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("generation timed out after %s: %w", p.timeout, ctx.Err())
	}
}

// Wait は処理中のAIリクエストがすべて配信されるまで待つ。
// ctxが先に終了した場合はctx.Err()を返す。
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
