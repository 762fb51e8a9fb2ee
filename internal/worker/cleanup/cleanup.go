// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 有効期限を過ぎたセッションと、保持期間（デフォルト30日）を超過した
// 同期履歴を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`
	deleteOldSyncRunsQuery     = `DELETE FROM sync_runs WHERE started_at < now() - $1::interval`
)

// Result は1回のクリーンアップで削除した件数。
type Result struct {
	Sessions int64
	SyncRuns int64
}

// CleanupJob は期限切れデータの自動削除ジョブ。
// 冪等な削除処理のみを行うため、複数回実行しても問題ない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 同期履歴の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Run は期限切れセッションと保持期間を超過した同期履歴を削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	sessions, err := j.exec(ctx, deleteExpiredSessionsQuery)
	if err != nil {
		j.logger.Error("セッションのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return res, fmt.Errorf("セッションのクリーンアップに失敗: %w", err)
	}
	res.Sessions = sessions

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	runs, err := j.exec(ctx, deleteOldSyncRunsQuery, interval)
	if err != nil {
		j.logger.Error("同期履歴のクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return res, fmt.Errorf("同期履歴のクリーンアップに失敗: %w", err)
	}
	res.SyncRuns = runs

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", res.Sessions),
		slog.Int64("deleted_sync_runs", res.SyncRuns),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return res, nil
}

// Start はクリーンアップを即時実行し、以降intervalごとに繰り返す。
// ctxがキャンセルされるまでブロックする。失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("クリーンアップジョブを開始しました",
		slog.String("interval", interval.String()),
	)

	j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

func (j *CleanupJob) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return n, nil
}
