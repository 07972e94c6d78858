// Package cleanup は無効化エントリの定期削除ジョブを提供する。
// トークン本来の有効期限を過ぎたエントリは署名検証で拒否されるため、
// ストアから削除しても安全である。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Minute

// Purger は期限切れエントリを削除するストアのインターフェース。
// revocation.MemoryStore が実装する。
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int, error)
}

// CleanupJob は期限切れの無効化エントリを定期的に削除するジョブ。
// 削除は冪等であり、対象がない場合もエラーにならない。
type CleanupJob struct {
	store    Purger
	logger   *slog.Logger
	Interval time.Duration

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// intervalが0以下の場合はDefaultIntervalを使用する。
func NewCleanupJob(store Purger, logger *slog.Logger, interval time.Duration) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &CleanupJob{
		store:    store,
		logger:   logger,
		Interval: interval,
		now:      time.Now,
	}
}

// Run は期限切れエントリを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.store.Purge(ctx, j.now())
	if err != nil {
		j.logger.Error("無効化エントリのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("無効化エントリのクリーンアップに失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("無効化エントリのクリーンアップが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Start はctxがキャンセルされるまでIntervalごとにRunを実行する。
// 起動直後に1回実行する。Runのエラーはログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", j.Interval),
	)

	_ = j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
