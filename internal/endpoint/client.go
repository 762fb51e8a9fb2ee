// Package endpoint はMicrosoft Defender for Endpointからデバイスを取得するデバイスソースを提供する。
package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/upstream"
)

const (
	// SourceName はFetchErrorに記録する取得元名。
	SourceName = "devices"

	defaultBaseURL       = "https://api.securitycenter.microsoft.com"
	defaultPageSize      = 1000
	defaultRatePerMinute = 100
)

// Config はDefenderクライアントの設定。
type Config struct {
	// テスト用にオーバーライド可能なベースURL
	BaseURL string
	// PageSize は1ページあたりの取得件数（$top）。
	PageSize int
	// RatePerMinute はAPI呼び出しの上限（回/分）。
	RatePerMinute int
}

// Client はDefenderのマシンAPIクライアント。
// API呼び出しはrate.Limiterで間隔を制御する。
type Client struct {
	req     *upstream.Requester
	logger  *slog.Logger
	config  Config
	limiter *rate.Limiter
}

// NewClient はClientを生成する。
// reqはDefenderスコープのトークンを付与するHTTPクライアントを持つこと。
func NewClient(req *upstream.Requester, logger *slog.Logger, config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.RatePerMinute <= 0 {
		config.RatePerMinute = defaultRatePerMinute
	}

	return &Client{
		req:     req,
		logger:  logger,
		config:  config,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RatePerMinute)), 1),
	}
}

// machine はDefenderのマシンリソースのうち使用する項目。
type machine struct {
	ID               string   `json:"id"`
	ComputerDNSName  string   `json:"computerDnsName"`
	DeviceName       string   `json:"deviceName"`
	OSPlatform       string   `json:"osPlatform"`
	HealthStatus     string   `json:"healthStatus"`
	RiskScore        string   `json:"riskScore"`
	LastSeen         string   `json:"lastSeen"`
	MachineTags      []string `json:"machineTags"`
	LastLoggedOnUser *struct {
		AADUserID         string `json:"aadUserId"`
		UserPrincipalName string `json:"userPrincipalName"`
	} `json:"lastLoggedOnUser"`
}

type machinesPage struct {
	Value []machine `json:"value"`
}

// FetchDevices は全デバイスを取得する。
// $top/$skipで空または端数のページが返るまで取得する。
func (c *Client) FetchDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device

	for skip := 0; ; skip += c.config.PageSize {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, model.NewFetchError(SourceName, model.FetchKindTransport, 0, err)
		}

		url := fmt.Sprintf("%s/api/machines?$top=%d&$skip=%d", c.config.BaseURL, c.config.PageSize, skip)
		var page machinesPage
		if err := c.req.GetJSON(ctx, url, &page); err != nil {
			return nil, err
		}

		for _, m := range page.Value {
			devices = append(devices, toDevice(m))
		}
		c.logger.Debug("fetched devices page",
			slog.Int("page_size", len(page.Value)),
			slog.Int("total", len(devices)),
		)

		if len(page.Value) < c.config.PageSize {
			break
		}
	}

	c.logger.Info("fetched devices", slog.Int("total", len(devices)))
	if devices == nil {
		devices = []model.Device{}
	}
	return devices, nil
}

// toDevice はDefenderのマシンをDeviceに変換する。
// オーナーヒントはaadUserId、userPrincipalName、UnknownOwnerの順で採用する。
func toDevice(m machine) model.Device {
	hint := model.UnknownOwner
	if m.LastLoggedOnUser != nil {
		switch {
		case m.LastLoggedOnUser.AADUserID != "":
			hint = m.LastLoggedOnUser.AADUserID
		case m.LastLoggedOnUser.UserPrincipalName != "":
			hint = m.LastLoggedOnUser.UserPrincipalName
		}
	}

	name := m.ComputerDNSName
	if name == "" {
		name = m.DeviceName
	}

	var tags []string
	if len(m.MachineTags) > 0 {
		tags = append([]string(nil), m.MachineTags...)
	}

	return model.Device{
		ID:           m.ID,
		OwnerHint:    hint,
		DeviceName:   name,
		OS:           m.OSPlatform,
		HealthStatus: model.ParseHealthStatus(m.HealthStatus),
		RiskLevel:    MapRiskScore(m.RiskScore),
		LastSeen:     parseTime(m.LastSeen),
		MachineTags:  tags,
	}
}

// MapRiskScore はDefenderのriskScoreをRiskLevelに変換する。
// None/InformationalはLowとして扱い、空や未知の値はUnknownとする。
func MapRiskScore(score string) model.RiskLevel {
	switch strings.ToLower(score) {
	case "high":
		return model.RiskHigh
	case "medium":
		return model.RiskMedium
	case "low", "none", "informational":
		return model.RiskLow
	default:
		return model.RiskUnknown
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
