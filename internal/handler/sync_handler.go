package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/secureops/internal/middleware"
	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/snapshot"
)

const (
	defaultSyncRunLimit = 20
	maxSyncRunLimit     = 100

	// manualRefreshTimeout は手動再同期1回あたりの上限時間。
	manualRefreshTimeout = 2 * time.Minute
)

// Refresher は上流からの再取得と照合を実行する。
type Refresher interface {
	Refresh(ctx context.Context) (*snapshot.Snapshot, error)
}

// SyncRunLister は同期履歴を参照する。
// repository.SyncRunRepositoryの部分集合として定義する。
type SyncRunLister interface {
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
	LatestSuccess(ctx context.Context) (*model.SyncRun, error)
}

type refreshResponse struct {
	SyncedAt       time.Time              `json:"synced_at"`
	UserCount      int                    `json:"user_count"`
	DeviceCount    int                    `json:"device_count"`
	Reconciliation reconciliationResponse `json:"reconciliation"`
}

type syncRunResponse struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	Status          string     `json:"status"`
	UserCount       int        `json:"user_count"`
	DeviceCount     int        `json:"device_count"`
	DirectCount     int        `json:"direct_count"`
	TagCount        int        `json:"tag_count"`
	UnresolvedCount int        `json:"unresolved_count"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

type syncRunsResponse struct {
	Runs        []syncRunResponse `json:"runs"`
	LastSuccess *syncRunResponse  `json:"last_success"`
}

// SyncHandler は手動再同期と同期履歴のHTTPハンドラー。管理者のみ。
type SyncHandler struct {
	refresher      Refresher
	runs           SyncRunLister
	refreshTimeout time.Duration
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(refresher Refresher, runs SyncRunLister) *SyncHandler {
	return &SyncHandler{
		refresher:      refresher,
		runs:           runs,
		refreshTimeout: manualRefreshTimeout,
	}
}

// Refresh は上流から再取得して照合し、新しいスナップショットの概要を返す。
// 失敗した場合は502を返し、前回のスナップショットはそのまま残る。
// クライアントが切断しても同期は中断せず、refreshTimeoutまで実行を続ける。
// POST /api/refresh
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.refreshTimeout)
	defer cancel()

	snap, err := h.refresher.Refresh(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	slog.Info("manual refresh completed",
		slog.String("user_id", userID),
		slog.Int("user_count", len(snap.Users)),
		slog.Int("device_count", len(snap.Devices)),
	)

	writeJSON(w, http.StatusOK, refreshResponse{
		SyncedAt:    snap.SyncedAt.UTC(),
		UserCount:   len(snap.Users),
		DeviceCount: len(snap.Devices),
		Reconciliation: reconciliationResponse{
			Direct:     snap.Summary.Direct,
			Tag:        snap.Summary.Tag,
			Unresolved: snap.Summary.Unresolved,
		},
	})
}

// ListSyncRuns は新しい順の同期履歴と最後に成功した同期を返す。
// GET /api/sync-runs?limit=20
func (h *SyncHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultSyncRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_LIMIT",
				Message:  "Invalid limit: " + raw,
				Category: "validation",
				Action:   "Specify a positive integer.",
			})
			return
		}
		limit = min(n, maxSyncRunLimit)
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	latest, err := h.runs.LatestSuccess(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := syncRunsResponse{Runs: make([]syncRunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toSyncRunResponse(run))
	}
	if latest != nil {
		lr := toSyncRunResponse(latest)
		resp.LastSuccess = &lr
	}

	writeJSON(w, http.StatusOK, resp)
}

func toSyncRunResponse(run *model.SyncRun) syncRunResponse {
	return syncRunResponse{
		ID:              run.ID,
		StartedAt:       run.StartedAt.UTC(),
		FinishedAt:      timePtr(run.FinishedAt),
		Status:          string(run.Status),
		UserCount:       run.UserCount,
		DeviceCount:     run.DeviceCount,
		DirectCount:     run.DirectCount,
		TagCount:        run.TagCount,
		UnresolvedCount: run.UnresolvedCount,
		ErrorMessage:    run.ErrorMessage,
	}
}
