package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthChecker はデータベースの疎通確認を行う。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type healthResponse struct {
	Status         string     `json:"status"`
	Timestamp      time.Time  `json:"timestamp"`
	DataSource     string     `json:"data_source"`
	Database       string     `json:"database"`
	SnapshotLoaded bool       `json:"snapshot_loaded"`
	LastSynced     *time.Time `json:"last_synced"`
	LastError      string     `json:"last_error,omitempty"`
}

// HealthHandler は死活監視のHTTPハンドラー。
type HealthHandler struct {
	db         HealthChecker
	snapshots  SnapshotReader
	dataSource string
	now        func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。dbはnilでもよい。
func NewHealthHandler(db HealthChecker, snapshots SnapshotReader, dataSource string) *HealthHandler {
	return &HealthHandler{
		db:         db,
		snapshots:  snapshots,
		dataSource: dataSource,
		now:        time.Now,
	}
}

// Health はプロセスの稼働状況を返す。
// データベースに接続できない場合は503を返す。上流の同期失敗は稼働状況に含めない。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.snapshots.Current()

	resp := healthResponse{
		Status:         "running",
		Timestamp:      h.now().UTC(),
		DataSource:     h.dataSource,
		Database:       "ok",
		SnapshotLoaded: status.Snapshot.Loaded(),
		LastSynced:     timePtr(status.Snapshot.SyncedAt),
		LastError:      status.LastError,
	}

	code := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("health check database ping failed", slog.String("error", err.Error()))
			resp.Status = "degraded"
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, resp)
}
