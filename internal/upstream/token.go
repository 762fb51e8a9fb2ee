// Package upstream はディレクトリサービスとエンドポイントセキュリティサービスへの
// HTTPアクセスに共通する処理を提供する。
// OAuth2クライアントクレデンシャルによるトークン取得、ステータス分類、
// リトライ付きのJSON取得を含む。
package upstream

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// defaultAuthorityURL はMicrosoft IDプラットフォームのトークン発行元。
	defaultAuthorityURL = "https://login.microsoftonline.com"

	// GraphScope はMicrosoft Graphのアプリケーション権限スコープ。
	GraphScope = "https://graph.microsoft.com/.default"
	// DefenderScope はMicrosoft Defender for Endpoint APIのアプリケーション権限スコープ。
	DefenderScope = "https://api.securitycenter.microsoft.com/.default"
)

// TokenConfig はクライアントクレデンシャルフローの設定。
type TokenConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// テスト用にオーバーライド可能なトークン発行元
	AuthorityURL string
}

// TokenURL はテナントのトークンエンドポイントURLを返す。
func (c TokenConfig) TokenURL() string {
	authority := c.AuthorityURL
	if authority == "" {
		authority = defaultAuthorityURL
	}
	return strings.TrimRight(authority, "/") + "/" + c.TenantID + "/oauth2/v2.0/token"
}

// NewTokenClient は指定スコープのアクセストークンを自動付与するHTTPクライアントを返す。
// トークンは有効期限までキャッシュされ、期限切れ時に再取得される。
func NewTokenClient(ctx context.Context, cfg TokenConfig, scope string, timeout time.Duration) *http.Client {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL(),
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	base := &http.Client{Timeout: timeout}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	client := cc.Client(ctx)
	client.Timeout = timeout
	return client
}
