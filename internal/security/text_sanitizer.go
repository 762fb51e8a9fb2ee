// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は上流サービスから取得した表示用文字列からマークアップを除去する。
// ディレクトリの表示名やデバイス名、マシンタグは管理者が自由に入力できるため、
// API応答に含める前にbluemondayのStrictPolicyで無害化する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/secureops/internal/model"
)

// TextSanitizer は表示用文字列のサニタイズを行う。
// bluemondayのポリシーはスレッドセーフなので、1つのインスタンスを共有できる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxSanitizePasses は文字実体で多重にエスケープされた入力を展開する上限回数。
const maxSanitizePasses = 5

// Sanitize はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした文字実体はJSON応答用に元の文字へ戻す。
// 戻した結果がタグを含む場合に備え、出力が変化しなくなるまで除去を繰り返す。
// 上限回数で収束しない場合はエスケープしたままの文字列を返す。
func (s *TextSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	current := text
	for range maxSanitizePasses {
		next := s.pass(current)
		if next == current {
			return next
		}
		current = next
	}
	return strings.TrimSpace(s.policy.Sanitize(current))
}

func (s *TextSanitizer) pass(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(text)))
}

// User はユーザーの表示用フィールドをサニタイズしたコピーを返す。
// IDとMailは結合キーなので変更しない。
func (s *TextSanitizer) User(u model.User) model.User {
	u.DisplayName = s.Sanitize(u.DisplayName)
	u.JobTitle = s.Sanitize(u.JobTitle)
	u.Department = s.Sanitize(u.Department)
	if !IsSafePhotoURL(u.PhotoURL) {
		u.PhotoURL = ""
	}
	return u
}

// Device はデバイスの表示用フィールドをサニタイズしたコピーを返す。
// 照合はサニタイズ前の値で完了しているため、OwnerIDとProvenanceは変更しない。
func (s *TextSanitizer) Device(d model.ReconciledDevice) model.ReconciledDevice {
	d.DeviceName = s.Sanitize(d.DeviceName)
	d.OwnerHint = s.Sanitize(d.OwnerHint)
	d.OS = s.Sanitize(d.OS)
	if d.MachineTags != nil {
		tags := make([]string, len(d.MachineTags))
		for i, tag := range d.MachineTags {
			tags[i] = s.Sanitize(tag)
		}
		d.MachineTags = tags
	}
	return d
}

// IsSafePhotoURL はimg要素のsrcとして表示してよいURLかを判定する。
// https URLと画像のdata URIのみ許可する。
func IsSafePhotoURL(raw string) bool {
	if strings.HasPrefix(raw, "data:image/") {
		return strings.Contains(raw, ";base64,")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}
