package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/secureops/internal/model"
)

// PostgresSyncRunRepo はPostgreSQLを使用した同期実行履歴リポジトリ。
type PostgresSyncRunRepo struct {
	db *sql.DB
}

// NewPostgresSyncRunRepo はPostgresSyncRunRepoを生成する。
func NewPostgresSyncRunRepo(db *sql.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

const syncRunColumns = `id, started_at, finished_at, status, user_count, device_count,
	direct_count, tag_count, unresolved_count, error_message`

// Create は同期実行の記録を作成する。
func (r *PostgresSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (`+syncRunColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.StartedAt, run.FinishedAt, string(run.Status),
		run.UserCount, run.DeviceCount, run.DirectCount, run.TagCount, run.UnresolvedCount,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件の同期実行を返す。
func (r *PostgresSyncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncRunColumns+`
		 FROM sync_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}
	return runs, nil
}

// LatestSuccess は最後に成功した同期実行を返す。存在しない場合はnilを返す。
func (r *PostgresSyncRunRepo) LatestSuccess(ctx context.Context) (*model.SyncRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+syncRunColumns+`
		 FROM sync_runs
		 WHERE status = $1
		 ORDER BY started_at DESC
		 LIMIT 1`,
		string(model.SyncStatusSuccess),
	)
	run, err := scanSyncRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(s rowScanner) (*model.SyncRun, error) {
	run := &model.SyncRun{}
	var status string
	err := s.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status,
		&run.UserCount, &run.DeviceCount, &run.DirectCount, &run.TagCount, &run.UnresolvedCount,
		&run.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}
	run.Status = model.SyncStatus(status)
	return run, nil
}

// compile-time interface check
var _ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
