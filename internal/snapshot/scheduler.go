package snapshot

import (
	"context"
	"log/slog"
	"time"
)

// Refresher は同期を1回実行するインターフェース。
type Refresher interface {
	Refresh(ctx context.Context) (*Snapshot, error)
}

// Scheduler は一定間隔で同期を実行する。
type Scheduler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewScheduler はSchedulerを生成する。
func NewScheduler(refresher Refresher, logger *slog.Logger) *Scheduler {
	return &Scheduler{refresher: refresher, logger: logger}
}

// Start は起動直後に1回同期し、その後interval間隔で同期する。
// コンテキストがキャンセルされるまで実行を継続する。
// 同期の失敗はログに記録し、直前のデータを維持したまま次の周期を待つ。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	start := time.Now()
	if _, err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("同期サイクルが完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
