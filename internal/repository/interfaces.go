// Package repository はデータ永続化のインターフェースを定義する。
//
// 照合結果そのものは永続化しない。保存するのはログインセッションと
// 同期実行の監査履歴のみ。
package repository

import (
	"context"

	"github.com/hitoshi/secureops/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// SyncRunRepository は同期実行履歴の永続化インターフェース。
type SyncRunRepository interface {
	// Create は同期実行の記録を作成する。
	Create(ctx context.Context, run *model.SyncRun) error
	// ListRecent は新しい順に最大limit件の同期実行を返す。
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
	// LatestSuccess は最後に成功した同期実行を返す。存在しない場合はnilを返す。
	LatestSuccess(ctx context.Context) (*model.SyncRun, error)
}
