// Package export はユーザーと所有デバイスの一覧をCSVとして書き出す。
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/secureops/internal/model"
)

// Header はCSVの見出し行。
var Header = []string{
	"User Display Name",
	"User Email",
	"User Job Title",
	"User Department",
	"Device Name",
	"Device OS",
	"Device Health Status",
	"Device Risk Level",
	"Device Last Seen",
}

// LastSeenLayout は最終確認日時の書式（UTC、ミリ秒付きISO 8601）。
const LastSeenLayout = "2006-01-02T15:04:05.000Z"

// WriteCSV はusersに所有者が含まれるデバイスを1行ずつ書き出し、書き出した行数を返す。
// 行はdevicesの順序で、所有者未解決のデバイスや対象外ユーザーのデバイスは含めない。
// 文字列の列は数式として評価されないようエスケープする。
func WriteCSV(w io.Writer, users []model.User, devices []model.ReconciledDevice) (int, error) {
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		if _, exists := byID[u.ID]; !exists {
			byID[u.ID] = u
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("failed to write csv header: %w", err)
	}

	rows := 0
	for _, d := range devices {
		if !d.Resolved() {
			continue
		}
		u, ok := byID[d.OwnerID]
		if !ok {
			continue
		}
		record := []string{
			escapeFormula(u.DisplayName),
			escapeFormula(u.Mail),
			escapeFormula(u.JobTitle),
			escapeFormula(u.Department),
			escapeFormula(d.DeviceName),
			escapeFormula(d.OS),
			string(d.HealthStatus),
			string(d.RiskLevel),
			formatLastSeen(d.LastSeen),
		}
		if err := cw.Write(record); err != nil {
			return rows, fmt.Errorf("failed to write csv row for device %s: %w", d.ID, err)
		}
		rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("failed to flush csv: %w", err)
	}
	return rows, nil
}

// formulaPrefixes は表計算ソフトが数式として解釈するセルの先頭文字。
const formulaPrefixes = "=+-@\t\r"

// escapeFormula は上流から取得した文字列が数式として評価されないよう、
// 先頭が数式の開始文字であれば単一引用符を付ける。
func escapeFormula(v string) string {
	if v != "" && strings.ContainsRune(formulaPrefixes, rune(v[0])) {
		return "'" + v
	}
	return v
}

func formatLastSeen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(LastSeenLayout)
}

// Filename はダウンロード用のファイル名を返す。
func Filename(now time.Time) string {
	return fmt.Sprintf("SecureOps-Report-%s.csv", now.Format("2006-01-02"))
}
