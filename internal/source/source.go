// Package source はユーザーとデバイスの取得元を抽象化する。
//
// 実運用ではMicrosoft GraphとDefenderのクライアントが、
// 開発・デモ用途では埋め込みのフィクスチャがこれらのインターフェースを満たす。
package source

import (
	"context"

	"github.com/hitoshi/secureops/internal/model"
)

// DirectorySource はディレクトリサービスからユーザー一覧を取得する。
// 失敗は*model.FetchErrorで返す。
type DirectorySource interface {
	FetchUsers(ctx context.Context) ([]model.User, error)
}

// DeviceSource はエンドポイントセキュリティサービスからデバイス一覧を取得する。
// 失敗は*model.FetchErrorで返す。
type DeviceSource interface {
	FetchDevices(ctx context.Context) ([]model.Device, error)
}
