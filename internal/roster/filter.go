package roster

import (
	"strings"

	"github.com/hitoshi/secureops/internal/model"
)

// AllFilter はフィルタ未指定を表す値。
const AllFilter = "All"

// ParseRiskFilter はクエリ文字列のリスクフィルタを解釈する。
// 空文字列またはAllは絞り込みなしとして空のRiskLevelを返す。
func ParseRiskFilter(s string) (model.RiskLevel, bool) {
	if s == "" || s == AllFilter {
		return "", true
	}
	return model.ParseRiskLevel(s)
}

// UserFilter はユーザー一覧の絞り込み条件。
// Riskが空の場合はリスクで絞り込まない。
type UserFilter struct {
	Search string
	Risk   model.RiskLevel
}

// FilterUsers は条件に一致するユーザーを入力順で返す。
// Searchは表示名またはメールアドレスの部分一致（大文字小文字を区別しない）。
// Riskを指定した場合は、そのリスクレベルのデバイスを所有するユーザーのみを返す。
func FilterUsers(users []model.User, devices []model.ReconciledDevice, f UserFilter) []model.User {
	search := strings.ToLower(f.Search)

	var withRisk map[string]struct{}
	if f.Risk != "" {
		withRisk = make(map[string]struct{})
		for _, d := range devices {
			if d.Resolved() && d.RiskLevel == f.Risk {
				withRisk[d.OwnerID] = struct{}{}
			}
		}
	}

	out := []model.User{}
	for _, u := range users {
		if search != "" &&
			!strings.Contains(strings.ToLower(u.DisplayName), search) &&
			!strings.Contains(strings.ToLower(u.Mail), search) {
			continue
		}
		if withRisk != nil {
			if _, ok := withRisk[u.ID]; !ok {
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

// DeviceFilter はデバイス一覧の絞り込み条件。
// OSとRiskが空の場合はその条件で絞り込まない。
type DeviceFilter struct {
	Search string
	OS     string
	Risk   model.RiskLevel
}

// FilterDevices は条件に一致するデバイスを入力順で返す。
// Searchはデバイス名（未設定の場合はID）またはOSの部分一致。
func FilterDevices(devices []model.ReconciledDevice, f DeviceFilter) []model.ReconciledDevice {
	search := strings.ToLower(f.Search)

	out := []model.ReconciledDevice{}
	for _, d := range devices {
		if search != "" &&
			!strings.Contains(strings.ToLower(DisplayName(d.Device)), search) &&
			!strings.Contains(strings.ToLower(d.OS), search) {
			continue
		}
		if f.OS != "" && f.OS != AllFilter && d.OS != f.OS {
			continue
		}
		if f.Risk != "" && d.RiskLevel != f.Risk {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DisplayName はデバイスの表示名を返す。名前がない場合はIDを使う。
func DisplayName(d model.Device) string {
	if d.DeviceName != "" {
		return d.DeviceName
	}
	if d.ID != "" {
		return d.ID
	}
	return "Unknown Device"
}

// OwnedBy は指定ユーザー集合が所有するデバイスを入力順で返す。
func OwnedBy(users []model.User, devices []model.ReconciledDevice) []model.ReconciledDevice {
	ids := make(map[string]struct{}, len(users))
	for _, u := range users {
		ids[u.ID] = struct{}{}
	}
	out := []model.ReconciledDevice{}
	for _, d := range devices {
		if _, ok := ids[d.OwnerID]; ok && d.Resolved() {
			out = append(out, d)
		}
	}
	return out
}
