package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/secureops/internal/middleware"
	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/roster"
	"github.com/hitoshi/secureops/internal/snapshot"
)

type kpiResponse struct {
	TotalUsers    int        `json:"total_users"`
	TotalDevices  int        `json:"total_devices"`
	DevicesAtRisk int        `json:"devices_at_risk"`
	LastSynced    *time.Time `json:"last_synced"`
}

type riskCountResponse struct {
	Level string `json:"level"`
	Count int    `json:"count"`
}

type osCountResponse struct {
	OS    string `json:"os"`
	Count int    `json:"count"`
}

type reconciliationResponse struct {
	Direct     int `json:"direct"`
	Tag        int `json:"tag"`
	Unresolved int `json:"unresolved"`
}

// dashboardResponse はGET /api/dashboardのレスポンス。
// LastErrorは直近の同期が失敗した場合のみ設定され、表示中のデータは前回成功時のもの。
type dashboardResponse struct {
	KPIs           kpiResponse            `json:"kpis"`
	RiskCounts     []riskCountResponse    `json:"risk_counts"`
	OSDistribution []osCountResponse      `json:"os_distribution"`
	Reconciliation reconciliationResponse `json:"reconciliation"`
	LastError      string                 `json:"last_error,omitempty"`
	LastErrorAt    *time.Time             `json:"last_error_at,omitempty"`
}

type userRosterResponse struct {
	User    userResponse     `json:"user"`
	Devices []deviceResponse `json:"devices"`
}

type unassignedResponse struct {
	Label       string           `json:"label"`
	DeviceCount int              `json:"device_count"`
	TagAssigned int              `json:"tag_assigned"`
	Devices     []deviceResponse `json:"devices"`
}

// usersResponse はGET /api/usersのレスポンス。
type usersResponse struct {
	Users      []userRosterResponse `json:"users"`
	Unassigned unassignedResponse   `json:"unassigned"`
	Total      int                  `json:"total"`
}

// devicesResponse はGET /api/devicesのレスポンス。
type devicesResponse struct {
	Devices   []deviceResponse `json:"devices"`
	OSOptions []string         `json:"os_options"`
	Total     int              `json:"total"`
}

// DashboardHandler はスナップショットを参照する閲覧系のHTTPハンドラー。
type DashboardHandler struct {
	snapshots SnapshotReader
	present   presenter
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(snapshots SnapshotReader, p presenter) *DashboardHandler {
	return &DashboardHandler{
		snapshots: snapshots,
		present:   p,
	}
}

// Dashboard は指標、リスク別件数、OS分布を返す。
// GET /api/dashboard
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	status, ok := loadedStatus(w, h.snapshots)
	if !ok {
		return
	}
	snap := status.Snapshot

	kpis := roster.ComputeKPIs(snap.Users, snap.Devices, snap.SyncedAt)
	resp := dashboardResponse{
		KPIs: kpiResponse{
			TotalUsers:    kpis.TotalUsers,
			TotalDevices:  kpis.TotalDevices,
			DevicesAtRisk: kpis.DevicesAtRisk,
			LastSynced:    timePtr(kpis.LastSynced),
		},
		RiskCounts:     []riskCountResponse{},
		OSDistribution: []osCountResponse{},
		Reconciliation: reconciliationResponse{
			Direct:     snap.Summary.Direct,
			Tag:        snap.Summary.Tag,
			Unresolved: snap.Summary.Unresolved,
		},
		LastError:   status.LastError,
		LastErrorAt: timePtr(status.LastErrorAt),
	}
	for _, rc := range roster.RiskCounts(snap.Devices) {
		resp.RiskCounts = append(resp.RiskCounts, riskCountResponse{Level: string(rc.Level), Count: rc.Count})
	}
	for _, oc := range roster.OSDistribution(snap.Devices) {
		resp.OSDistribution = append(resp.OSDistribution, osCountResponse{OS: oc.OS, Count: oc.Count})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Users は絞り込んだユーザーと所有デバイス、未割り当てデバイスを返す。
// リスクを指定した場合は未割り当てデバイスも同じリスクで絞り込む。
// GET /api/users?search=&risk=
func (h *DashboardHandler) Users(w http.ResponseWriter, r *http.Request) {
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
	grouping := roster.Group(users, snap.Devices)

	unassigned := grouping.Unassigned.Devices
	if risk != "" {
		unassigned = roster.FilterDevices(unassigned, roster.DeviceFilter{Risk: risk})
	}

	resp := usersResponse{
		Users: make([]userRosterResponse, 0, len(grouping.Users)),
		Unassigned: unassignedResponse{
			Label:       grouping.Unassigned.Label,
			DeviceCount: len(unassigned),
			TagAssigned: grouping.Unassigned.TagAssigned,
			Devices:     h.present.devices(unassigned),
		},
		Total: len(snap.Users),
	}
	for _, ur := range grouping.Users {
		resp.Users = append(resp.Users, userRosterResponse{
			User:    h.present.user(ur.User),
			Devices: h.present.devices(ur.Devices),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Devices は絞り込んだ照合済みデバイスとOSフィルタの選択肢を返す。
// GET /api/devices?search=&os=&risk=
func (h *DashboardHandler) Devices(w http.ResponseWriter, r *http.Request) {
	risk, ok := parseRisk(w, r)
	if !ok {
		return
	}
	status, ok := loadedStatus(w, h.snapshots)
	if !ok {
		return
	}
	snap := status.Snapshot

	osFilter := r.URL.Query().Get("os")
	if osFilter == roster.AllFilter {
		osFilter = ""
	}
	devices := roster.FilterDevices(snap.Devices, roster.DeviceFilter{
		Search: r.URL.Query().Get("search"),
		OS:     osFilter,
		Risk:   risk,
	})

	writeJSON(w, http.StatusOK, devicesResponse{
		Devices:   h.present.devices(devices),
		OSOptions: roster.DistinctOS(snap.Devices),
		Total:     len(snap.Devices),
	})
}

// loadedStatus は初回同期が完了していればスナップショットを返す。
// 未完了の場合は503を書き込んでfalseを返す。
func loadedStatus(w http.ResponseWriter, snapshots SnapshotReader) (snapshot.Status, bool) {
	status := snapshots.Current()
	if !status.Snapshot.Loaded() {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewSnapshotNotReadyError())
		return status, false
	}
	return status, true
}

// parseRisk はriskクエリを解釈する。不正な値の場合は400を書き込んでfalseを返す。
func parseRisk(w http.ResponseWriter, r *http.Request) (model.RiskLevel, bool) {
	raw := r.URL.Query().Get("risk")
	risk, ok := roster.ParseRiskFilter(raw)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRiskFilterError(raw))
		return "", false
	}
	return risk, true
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
