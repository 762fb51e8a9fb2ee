package handler

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/secureops/internal/export"
	"github.com/hitoshi/secureops/internal/middleware"
	"github.com/hitoshi/secureops/internal/roster"
)

// ReportHandler はCSVレポートのHTTPハンドラー。
type ReportHandler struct {
	snapshots SnapshotReader
	now       func() time.Time
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(snapshots SnapshotReader) *ReportHandler {
	return &ReportHandler{
		snapshots: snapshots,
		now:       time.Now,
	}
}

// ExportCSV はユーザー一覧と同じ条件で絞り込んだユーザーのデバイスをCSVで返す。
// 管理者のみ。RequireAdminMiddlewareの後に配置する。
// GET /api/export.csv?search=&risk=
func (h *ReportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	risk, ok := parseRisk(w, r)
	if !ok {
		return
	}
	status, ok := loadedStatus(w, h.snapshots)
	if !ok {
		return
	}
	snap := status.Snapshot

	users := roster.FilterUsers(snap.Users, snap.Devices, roster.UserFilter{
		Search: r.URL.Query().Get("search"),
		Risk:   risk,
	})

	var buf bytes.Buffer
	rows, err := export.WriteCSV(&buf, users, snap.Devices)
	if err != nil {
		slog.Error("failed to write csv report", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	userID, _ := middleware.UserIDFromContext(r.Context())
	slog.Info("report exported",
		slog.String("user_id", userID),
		slog.Int("user_count", len(users)),
		slog.Int("row_count", rows),
	)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(h.now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
