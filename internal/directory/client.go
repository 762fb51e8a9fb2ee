// Package directory はMicrosoft Graphから組織ユーザーを取得するディレクトリソースを提供する。
// ページネーション、ライセンスによる絞り込み、プロフィール写真の付与を行う。
package directory

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/upstream"
)

const (
	// SourceName はFetchErrorに記録する取得元名。
	SourceName = "directory"

	defaultBaseURL       = "https://graph.microsoft.com"
	usersSelect          = "id,displayName,mail,jobTitle,department,assignedLicenses"
	usersPageSize        = 999
	defaultPhotoParallel = 8
	fallbackPhotoBase    = "https://i.pravatar.cc/150?u="
)

// DefaultLicenseSKUs は対象ユーザーを絞り込むライセンスSKUの既定値。
// Defender for Endpoint P2、Microsoft 365 Business Standard / Business Premium / E3。
var DefaultLicenseSKUs = []string{
	"c7df2760-2c81-4ef7-b578-5b5392b571df",
	"f245ecc8-75af-4f8e-b61f-27d8114de5f3",
	"cbdc14ab-d96c-4c30-b9f4-6ada7cdc1d46",
	"05e9a617-0261-4cee-bb44-138d3ef5d965",
}

// PhotoRecorder は写真取得のフォールバック発生を記録するインターフェース。
type PhotoRecorder interface {
	RecordPhotoFallback()
}

// Config はGraphクライアントの設定。
type Config struct {
	// テスト用にオーバーライド可能なベースURL
	BaseURL string
	// LicenseSKUs のいずれかを持つユーザーのみを対象とする。空の場合は全ユーザー。
	LicenseSKUs []string
	// AdminEmails に含まれるメールアドレスのユーザーをAdminとする。
	AdminEmails []string
	// PhotoConcurrency は写真取得の最大並列数。
	PhotoConcurrency int
	// FetchPhotos がfalseの場合は写真取得を行わずフォールバックURLを使う。
	FetchPhotos bool
}

// Client はMicrosoft GraphのユーザーAPIクライアント。
type Client struct {
	req      *upstream.Requester
	logger   *slog.Logger
	config   Config
	skus     map[string]struct{}
	admins   map[string]struct{}
	recorder PhotoRecorder
}

// NewClient はClientを生成する。
// reqはGraphスコープのトークンを付与するHTTPクライアントを持つこと。
func NewClient(req *upstream.Requester, logger *slog.Logger, config Config, recorder PhotoRecorder) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PhotoConcurrency <= 0 {
		config.PhotoConcurrency = defaultPhotoParallel
	}

	return &Client{
		req:      req,
		logger:   logger,
		config:   config,
		skus:     toSet(config.LicenseSKUs),
		admins:   toSet(config.AdminEmails),
		recorder: recorder,
	}
}

// graphUser はGraphのユーザーリソースのうち使用する項目。
type graphUser struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	Mail             string `json:"mail"`
	JobTitle         string `json:"jobTitle"`
	Department       string `json:"department"`
	AssignedLicenses []struct {
		SkuID string `json:"skuId"`
	} `json:"assignedLicenses"`
}

// usersPage はGraphのコレクションレスポンスの1ページ。
type usersPage struct {
	Value    []graphUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// FetchUsers は対象ライセンスを持つ全ユーザーを取得する。
// @odata.nextLink を辿って全ページを取得し、写真を付与した結果を返す。
func (c *Client) FetchUsers(ctx context.Context) ([]model.User, error) {
	all, err := c.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	users := make([]model.User, 0, len(all))
	for _, gu := range all {
		if !c.hasTargetLicense(gu) {
			continue
		}
		users = append(users, c.toUser(gu))
	}

	c.logger.Info("fetched directory users",
		slog.Int("total", len(all)),
		slog.Int("licensed", len(users)),
	)

	c.attachPhotos(ctx, users)
	return users, nil
}

func (c *Client) fetchAll(ctx context.Context) ([]graphUser, error) {
	q := url.Values{}
	q.Set("$select", usersSelect)
	q.Set("$top", fmt.Sprint(usersPageSize))
	next := c.config.BaseURL + "/v1.0/users?" + q.Encode()

	var all []graphUser
	for next != "" {
		var page usersPage
		if err := c.req.GetJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Value...)
		c.logger.Debug("fetched users page",
			slog.Int("page_size", len(page.Value)),
			slog.Int("total", len(all)),
		)
		next = page.NextLink
	}
	return all, nil
}

func (c *Client) hasTargetLicense(gu graphUser) bool {
	if len(c.skus) == 0 {
		return true
	}
	for _, l := range gu.AssignedLicenses {
		if _, ok := c.skus[strings.ToLower(l.SkuID)]; ok {
			return true
		}
	}
	return false
}

func (c *Client) toUser(gu graphUser) model.User {
	role := model.RoleViewer
	if _, ok := c.admins[strings.ToLower(gu.Mail)]; ok && gu.Mail != "" {
		role = model.RoleAdmin
	}
	return model.User{
		ID:          gu.ID,
		DisplayName: gu.DisplayName,
		Mail:        gu.Mail,
		JobTitle:    gu.JobTitle,
		Department:  gu.Department,
		Role:        role,
	}
}

// attachPhotos は各ユーザーのプロフィール写真をdata URLとして付与する。
// 取得は最大PhotoConcurrency並列で行い、個々の失敗はフォールバックURLに置き換える。
// 1人の失敗が他のユーザーの取得を中断することはない。
func (c *Client) attachPhotos(ctx context.Context, users []model.User) {
	if !c.config.FetchPhotos {
		for i := range users {
			users[i].PhotoURL = FallbackPhotoURL(users[i].Mail)
		}
		return
	}

	sem := make(chan struct{}, c.config.PhotoConcurrency)
	var wg sync.WaitGroup

	for i := range users {
		wg.Add(1)
		sem <- struct{}{}

		go func(u *model.User) {
			defer wg.Done()
			defer func() { <-sem }()

			photo, err := c.fetchPhoto(ctx, u.ID)
			if err != nil {
				c.logger.Debug("profile photo unavailable, using fallback",
					slog.String("user_id", u.ID),
					slog.String("error", err.Error()),
				)
				if c.recorder != nil {
					c.recorder.RecordPhotoFallback()
				}
				u.PhotoURL = FallbackPhotoURL(u.Mail)
				return
			}
			u.PhotoURL = photo
		}(&users[i])
	}

	wg.Wait()
}

func (c *Client) fetchPhoto(ctx context.Context, userID string) (string, error) {
	u := c.config.BaseURL + "/v1.0/users/" + url.PathEscape(userID) + "/photo/$value"
	body, contentType, err := c.req.GetBytes(ctx, u)
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", fmt.Errorf("empty photo")
	}
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body), nil
}

// FallbackPhotoURL は写真が取得できないユーザーの既定の画像URLを返す。
// 同じメールアドレスには常に同じURLを返す。
func FallbackPhotoURL(mail string) string {
	return fallbackPhotoBase + url.QueryEscape(mail)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}
