package reconcile

import (
	"regexp"
	"strings"
)

// emailPattern はタグ中のメールアドレス形の部分文字列にマッチする。
// ローカル部、"@"、ドメインラベル、2文字以上の英字トップレベルラベルの構成。
var emailPattern = regexp.MustCompile(`(?i)[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// ExtractEmail はタグから最初に見つかったメールアドレスを小文字化して返す。
// "owner:a@example.com" のような接頭辞付きの形式も扱う。
// 見つからない場合はokがfalseになる。
func ExtractEmail(tag string) (string, bool) {
	m := emailPattern.FindString(tag)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}
