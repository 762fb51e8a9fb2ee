// Package roster は照合結果をダッシュボード表示用に集計・絞り込みする。
// いずれの関数も入力を変更せず、照合結果の所有者解決をそのまま使う。
package roster

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/secureops/internal/model"
)

// UnassignedLabel は所有者未解決デバイスをまとめる表示名。
const UnassignedLabel = "Unassigned Devices"

// UserRoster はユーザーと所有デバイスの組。
type UserRoster struct {
	User    model.User
	Devices []model.ReconciledDevice
}

// Unassigned は所有者を解決できなかったデバイスの集まり。
// TagAssignedはタグ経由で所有者が解決されたデバイスの総数。
type Unassigned struct {
	Label       string
	Devices     []model.ReconciledDevice
	TagAssigned int
}

// Grouping はユーザー別のデバイス一覧と未割り当てデバイス。
type Grouping struct {
	Users      []UserRoster
	Unassigned Unassigned
}

// Group はデバイスを所有ユーザーごとにまとめる。
// Usersはusersと同じ順序で、デバイスは入力順を保つ。
func Group(users []model.User, devices []model.ReconciledDevice) Grouping {
	byOwner := make(map[string][]model.ReconciledDevice)
	g := Grouping{
		Users:      make([]UserRoster, 0, len(users)),
		Unassigned: Unassigned{Label: UnassignedLabel, Devices: []model.ReconciledDevice{}},
	}

	for _, d := range devices {
		if d.Provenance == model.ProvenanceTag {
			g.Unassigned.TagAssigned++
		}
		if !d.Resolved() {
			g.Unassigned.Devices = append(g.Unassigned.Devices, d)
			continue
		}
		byOwner[d.OwnerID] = append(byOwner[d.OwnerID], d)
	}

	for _, u := range users {
		owned := byOwner[u.ID]
		if owned == nil {
			owned = []model.ReconciledDevice{}
		}
		g.Users = append(g.Users, UserRoster{User: u, Devices: owned})
	}
	return g
}

// RiskCount はリスクレベルごとの件数。
type RiskCount struct {
	Level model.RiskLevel
	Count int
}

// RiskCounts はリスクレベル別のデバイス数をmodel.RiskLevelsの順で返す。
// 該当デバイスがないレベルも0件として含む。
func RiskCounts(devices []model.ReconciledDevice) []RiskCount {
	counts := make(map[model.RiskLevel]int, len(model.RiskLevels))
	for _, d := range devices {
		counts[d.RiskLevel]++
	}
	out := make([]RiskCount, 0, len(model.RiskLevels))
	for _, lv := range model.RiskLevels {
		out = append(out, RiskCount{Level: lv, Count: counts[lv]})
	}
	return out
}

// UnknownOS はOSが空のデバイスの表示名。
const UnknownOS = "Unknown"

// OSCount はOSごとの件数。
type OSCount struct {
	OS    string
	Count int
}

// OSDistribution はOS別のデバイス数を件数の降順、同数はOS名の昇順で返す。
func OSDistribution(devices []model.ReconciledDevice) []OSCount {
	counts := make(map[string]int)
	for _, d := range devices {
		counts[osLabel(d.OS)]++
	}
	out := make([]OSCount, 0, len(counts))
	for os, n := range counts {
		out = append(out, OSCount{OS: os, Count: n})
	}
	slices.SortFunc(out, func(a, b OSCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.OS, b.OS)
	})
	return out
}

func osLabel(os string) string {
	if os == "" {
		return UnknownOS
	}
	return os
}

// KPIs はダッシュボード上部に表示する指標。
type KPIs struct {
	TotalUsers    int
	TotalDevices  int
	DevicesAtRisk int
	LastSynced    time.Time
}

// ComputeKPIs は指標を計算する。DevicesAtRiskはHighまたはMediumのデバイス数。
func ComputeKPIs(users []model.User, devices []model.ReconciledDevice, syncedAt time.Time) KPIs {
	k := KPIs{
		TotalUsers:   len(users),
		TotalDevices: len(devices),
		LastSynced:   syncedAt,
	}
	for _, d := range devices {
		if d.RiskLevel.IsElevated() {
			k.DevicesAtRisk++
		}
	}
	return k
}

// DistinctOS はOSフィルタの選択肢を昇順で返す。空のOSは含めない。
func DistinctOS(devices []model.ReconciledDevice) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, d := range devices {
		if d.OS == "" {
			continue
		}
		if _, ok := seen[d.OS]; ok {
			continue
		}
		seen[d.OS] = struct{}{}
		out = append(out, d.OS)
	}
	slices.Sort(out)
	return out
}
