package handler

import (
	"time"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/roster"
	"github.com/hitoshi/secureops/internal/security"
)

// userResponse はユーザーのJSONレスポンス。
type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Mail        string `json:"mail"`
	JobTitle    string `json:"job_title"`
	Department  string `json:"department"`
	Role        string `json:"role"`
	PhotoURL    string `json:"photo_url"`
}

// deviceResponse は照合済みデバイスのJSONレスポンス。
// LastSeenは上流が値を返さなかった場合にnullとなる。
type deviceResponse struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"display_name"`
	DeviceName   string     `json:"device_name"`
	OwnerHint    string     `json:"owner_hint"`
	OS           string     `json:"os"`
	HealthStatus string     `json:"health_status"`
	RiskLevel    string     `json:"risk_level"`
	LastSeen     *time.Time `json:"last_seen"`
	MachineTags  []string   `json:"machine_tags"`
	OwnerID      string     `json:"owner_id,omitempty"`
	Provenance   string     `json:"provenance"`
}

// presenter はドメインモデルをサニタイズ済みのレスポンスに変換する。
type presenter struct {
	sanitizer *security.TextSanitizer
}

func newPresenter(sanitizer *security.TextSanitizer) presenter {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return presenter{sanitizer: sanitizer}
}

func (p presenter) user(u model.User) userResponse {
	u = p.sanitizer.User(u)
	return userResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Mail:        u.Mail,
		JobTitle:    u.JobTitle,
		Department:  u.Department,
		Role:        string(u.Role),
		PhotoURL:    u.PhotoURL,
	}
}

func (p presenter) device(d model.ReconciledDevice) deviceResponse {
	d = p.sanitizer.Device(d)
	resp := deviceResponse{
		ID:           d.ID,
		DisplayName:  roster.DisplayName(d.Device),
		DeviceName:   d.DeviceName,
		OwnerHint:    d.OwnerHint,
		OS:           d.OS,
		HealthStatus: string(d.HealthStatus),
		RiskLevel:    string(d.RiskLevel),
		MachineTags:  d.MachineTags,
		OwnerID:      d.OwnerID,
		Provenance:   string(d.Provenance),
	}
	if resp.MachineTags == nil {
		resp.MachineTags = []string{}
	}
	if !d.LastSeen.IsZero() {
		t := d.LastSeen.UTC()
		resp.LastSeen = &t
	}
	return resp
}

func (p presenter) devices(devices []model.ReconciledDevice) []deviceResponse {
	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = p.device(d)
	}
	return out
}
