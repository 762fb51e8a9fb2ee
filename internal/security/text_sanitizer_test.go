package security

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/secureops/internal/model"
)

// TestSanitize_StripsMarkup はタグが除去されテキストのみが残ることを検証する。
func TestSanitize_StripsMarkup(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Adele Vance", want: "Adele Vance"},
		{name: "空文字列", input: "", want: ""},
		{name: "scriptタグは内容ごと除去", input: `Megan<script>alert(1)</script>`, want: "Megan"},
		{name: "イベント属性付きタグを除去", input: `<img src=x onerror="alert(1)">LAPTOP-01`, want: "LAPTOP-01"},
		{name: "装飾タグは中身を残す", input: "<b>Retail</b> Manager", want: "Retail Manager"},
		{name: "アンパサンドは元の文字に戻す", input: "R&D", want: "R&D"},
		{name: "引用符は元の文字に戻す", input: `owner: "frank"`, want: `owner: "frank"`},
		{name: "前後の空白を除去", input: "  Windows11  ", want: "Windows11"},
		{name: "エスケープされたタグも除去", input: "&lt;img src=x onerror=alert(1)&gt;", want: ""},
		{name: "二重エスケープされたタグも除去", input: "Dev&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;", want: "Dev"},
		{name: "比較記号は残す", input: "CPU < 80%", want: "CPU < 80%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_Idempotent はサニタイズ済みの文字列を再度サニタイズしても変化しないことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	inputs := []string{
		`<a href="javascript:alert(1)">Dev</a> & Ops`,
		"&lt;img src=x onerror=alert(1)&gt;",
		"&amp;lt;b&amp;gt;Retail&amp;lt;/b&amp;gt;",
		"R&D &amp; Ops",
		"CPU < 80%",
	}

	for _, input := range inputs {
		once := sanitizer.Sanitize(input)
		if twice := sanitizer.Sanitize(once); twice != once {
			t.Errorf("Sanitize(Sanitize(%q)) = %q, want %q", input, twice, once)
		}
		if strings.Contains(once, "<") && strings.Contains(once, ">") {
			t.Errorf("Sanitize(%q) = %q, want no markup", input, once)
		}
	}
}

func TestTextSanitizer_User(t *testing.T) {
	sanitizer := NewTextSanitizer()

	in := model.User{
		ID:          "user1",
		DisplayName: "<i>Adele</i> Vance",
		Mail:        "AdeleV@contoso.com",
		JobTitle:    "Retail Manager<script>x</script>",
		Department:  "Retail",
		Role:        model.RoleAdmin,
		PhotoURL:    "javascript:alert(1)",
	}

	got := sanitizer.User(in)

	if got.DisplayName != "Adele Vance" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
	if got.JobTitle != "Retail Manager" {
		t.Errorf("JobTitle = %q", got.JobTitle)
	}
	if got.ID != "user1" || got.Mail != "AdeleV@contoso.com" || got.Role != model.RoleAdmin {
		t.Errorf("identity fields changed: %+v", got)
	}
	if got.PhotoURL != "" {
		t.Errorf("PhotoURL = %q, want empty for unsafe scheme", got.PhotoURL)
	}
	if in.DisplayName != "<i>Adele</i> Vance" {
		t.Error("input must not be modified")
	}
}

func TestTextSanitizer_Device(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tags := []string{"<b>owner:</b> frank.miller@contoso.com", "VIP"}
	in := model.ReconciledDevice{
		Device: model.Device{
			ID:          "dev1",
			DeviceName:  "<svg onload=alert(1)>LAPTOP-01",
			OS:          "Windows11",
			RiskLevel:   model.RiskHigh,
			LastSeen:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			MachineTags: tags,
		},
		OwnerID:    "user7",
		Provenance: model.ProvenanceTag,
	}

	got := sanitizer.Device(in)

	if got.DeviceName != "LAPTOP-01" {
		t.Errorf("DeviceName = %q", got.DeviceName)
	}
	if got.MachineTags[0] != "owner: frank.miller@contoso.com" {
		t.Errorf("MachineTags[0] = %q", got.MachineTags[0])
	}
	if tags[0] != "<b>owner:</b> frank.miller@contoso.com" {
		t.Error("input tags must not be modified")
	}
	if got.OwnerID != "user7" || got.Provenance != model.ProvenanceTag {
		t.Errorf("reconciliation fields changed: %+v", got)
	}

	if empty := sanitizer.Device(model.ReconciledDevice{}); empty.MachineTags != nil {
		t.Errorf("nil tags should stay nil, got %v", empty.MachineTags)
	}
}

func TestIsSafePhotoURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://i.pravatar.cc/150?u=adelev@contoso.com", true},
		{"data:image/jpeg;base64,/9j/4AAQ", true},
		{"data:image/svg+xml,<svg onload=alert(1)>", false},
		{"data:text/html;base64,PHNjcmlwdD4=", false},
		{"http://example.com/a.png", false},
		{"javascript:alert(1)", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsSafePhotoURL(tt.url); got != tt.want {
			t.Errorf("IsSafePhotoURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
