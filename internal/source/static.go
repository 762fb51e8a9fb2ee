package source

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/secureops/internal/directory"
	"github.com/hitoshi/secureops/internal/model"
)

//go:embed fixtures/*.json
var fixtureFS embed.FS

// 静的ソースが返すFetchErrorの取得元名
const staticSourceName = "static"

type staticUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	JobTitle    string `json:"jobTitle"`
	Department  string `json:"department"`
	Role        string `json:"role"`
}

type staticDevice struct {
	ID           string   `json:"id"`
	OwnerHint    string   `json:"ownerHint"`
	DeviceName   string   `json:"deviceName"`
	OS           string   `json:"os"`
	HealthStatus string   `json:"healthStatus"`
	RiskLevel    string   `json:"riskLevel"`
	LastSeen     string   `json:"lastSeen"`
	MachineTags  []string `json:"machineTags"`
}

// StaticSource は埋め込みのフィクスチャを返すユーザー・デバイスソース。
// DATA_SOURCE=static の場合や上流障害時のフォールバックとして使う。
type StaticSource struct {
	users   []model.User
	devices []model.Device
}

// NewStaticSource は埋め込みフィクスチャを読み込んだStaticSourceを生成する。
func NewStaticSource() (*StaticSource, error) {
	var rawUsers []staticUser
	if err := readFixture("fixtures/users.json", &rawUsers); err != nil {
		return nil, err
	}
	var rawDevices []staticDevice
	if err := readFixture("fixtures/devices.json", &rawDevices); err != nil {
		return nil, err
	}

	users := make([]model.User, 0, len(rawUsers))
	for _, u := range rawUsers {
		role, ok := model.ParseUserRole(u.Role)
		if !ok {
			role = model.RoleViewer
		}
		users = append(users, model.User{
			ID:          u.ID,
			DisplayName: u.DisplayName,
			Mail:        u.Mail,
			JobTitle:    u.JobTitle,
			Department:  u.Department,
			Role:        role,
			PhotoURL:    directory.FallbackPhotoURL(u.Mail),
		})
	}

	devices := make([]model.Device, 0, len(rawDevices))
	for _, d := range rawDevices {
		risk, ok := model.ParseRiskLevel(d.RiskLevel)
		if !ok {
			risk = model.RiskUnknown
		}
		lastSeen, err := time.Parse(time.RFC3339, d.LastSeen)
		if err != nil {
			return nil, fmt.Errorf("parse lastSeen of %s: %w", d.ID, err)
		}
		devices = append(devices, model.Device{
			ID:           d.ID,
			OwnerHint:    d.OwnerHint,
			DeviceName:   d.DeviceName,
			OS:           d.OS,
			HealthStatus: model.ParseHealthStatus(d.HealthStatus),
			RiskLevel:    risk,
			LastSeen:     lastSeen.UTC(),
			MachineTags:  d.MachineTags,
		})
	}

	return &StaticSource{users: users, devices: devices}, nil
}

func readFixture(name string, out any) error {
	data, err := fixtureFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read fixture %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode fixture %s: %w", name, err)
	}
	return nil
}

// FetchUsers はフィクスチャのユーザーの複製を返す。
func (s *StaticSource) FetchUsers(ctx context.Context) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewFetchError(staticSourceName, model.FetchKindTransport, 0, err)
	}
	out := make([]model.User, len(s.users))
	copy(out, s.users)
	return out, nil
}

// FetchDevices はフィクスチャのデバイスの複製を返す。
func (s *StaticSource) FetchDevices(ctx context.Context) ([]model.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.NewFetchError(staticSourceName, model.FetchKindTransport, 0, err)
	}
	out := make([]model.Device, len(s.devices))
	for i, d := range s.devices {
		if d.MachineTags != nil {
			d.MachineTags = append([]string(nil), d.MachineTags...)
		}
		out[i] = d
	}
	return out, nil
}
