// Package reconcile はデバイスと所有ユーザーの照合処理を提供する。
//
// エンドポイントセキュリティサービスのデバイスが持つオーナーヒントは
// 欠落していたり信頼できないことがあるため、次の優先順で所有者を解決する。
//
//  1. オーナーヒントとユーザーIDの完全一致（大文字小文字を区別する）
//  2. マシンタグ中のメールアドレスとユーザーのメールアドレスの一致（大文字小文字を区別しない）
//  3. いずれも失敗した場合は未解決
//
// 照合は入力のみに依存する純粋関数で、状態を持たない。
package reconcile

import (
	"strings"

	"github.com/hitoshi/secureops/internal/model"
)

// Reconcile は全デバイスについて所有ユーザーを解決した結果を返す。
// 出力はdevicesと同じ長さ・同じ順序で、デバイスが欠落することはない。
// 同じIDまたは同じメールアドレスのユーザーが複数いる場合は、
// usersの中で先に現れたユーザーが採用される。
// 入力のスライスは変更しない。
func Reconcile(users []model.User, devices []model.Device) []model.ReconciledDevice {
	idx := newUserIndex(users)

	out := make([]model.ReconciledDevice, len(devices))
	for i, d := range devices {
		out[i] = idx.resolve(d)
	}
	return out
}

// userIndex はIDとメールアドレスによるユーザー検索表。
// 先勝ちで登録するため、線形探索で最初に一致したユーザーと同じ結果になる。
type userIndex struct {
	ids    map[string]struct{}
	byMail map[string]string
}

func newUserIndex(users []model.User) *userIndex {
	idx := &userIndex{
		ids:    make(map[string]struct{}, len(users)),
		byMail: make(map[string]string, len(users)),
	}
	for _, u := range users {
		idx.ids[u.ID] = struct{}{}
		if u.Mail == "" {
			continue
		}
		mail := strings.ToLower(u.Mail)
		if _, exists := idx.byMail[mail]; !exists {
			idx.byMail[mail] = u.ID
		}
	}
	return idx
}

// resolve は1台のデバイスの所有者を解決する。
func (idx *userIndex) resolve(d model.Device) model.ReconciledDevice {
	rd := model.ReconciledDevice{
		Device:     copyDevice(d),
		Provenance: model.ProvenanceUnresolved,
	}

	if d.OwnerHint != "" && d.OwnerHint != model.UnknownOwner {
		if _, ok := idx.ids[d.OwnerHint]; ok {
			rd.OwnerID = d.OwnerHint
			rd.Provenance = model.ProvenanceDirect
			return rd
		}
	}

	for _, tag := range d.MachineTags {
		mail, ok := ExtractEmail(tag)
		if !ok {
			continue
		}
		if id, ok := idx.byMail[mail]; ok {
			rd.OwnerID = id
			rd.Provenance = model.ProvenanceTag
			return rd
		}
	}

	return rd
}

// copyDevice はタグのスライスを複製したデバイスを返す。
// 出力が入力とバッキング配列を共有しないようにする。
func copyDevice(d model.Device) model.Device {
	if d.MachineTags != nil {
		tags := make([]string, len(d.MachineTags))
		copy(tags, d.MachineTags)
		d.MachineTags = tags
	}
	return d
}

// Summary は照合結果の解決方法別の件数。
type Summary struct {
	Direct     int
	Tag        int
	Unresolved int
}

// Summarize は照合結果を解決方法別に集計する。
func Summarize(devices []model.ReconciledDevice) Summary {
	var s Summary
	for _, d := range devices {
		switch d.Provenance {
		case model.ProvenanceDirect:
			s.Direct++
		case model.ProvenanceTag:
			s.Tag++
		default:
			s.Unresolved++
		}
	}
	return s
}
