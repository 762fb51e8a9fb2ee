// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeSnapshotNotReady    = "SNAPSHOT_NOT_READY"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNoUserForRole       = "NO_USER_FOR_ROLE"
	ErrCodeInvalidRole         = "INVALID_ROLE"
	ErrCodeInvalidRiskFilter   = "INVALID_RISK_FILTER"
)

// FetchErrorKind は上流取得失敗の分類。
type FetchErrorKind string

const (
	// FetchKindTransport はネットワーク到達不能やタイムアウト。
	FetchKindTransport FetchErrorKind = "transport"
	// FetchKindAuth はトークン取得失敗または401/403。
	FetchKindAuth FetchErrorKind = "auth"
	// FetchKindParse はレスポンスの解析失敗。
	FetchKindParse FetchErrorKind = "parse"
	// FetchKindStatus はその他の想定外のHTTPステータス。
	FetchKindStatus FetchErrorKind = "status"
)

// FetchError はディレクトリサービスまたはエンドポイントセキュリティサービスからの
// 取得失敗を表す唯一のエラー型。
type FetchError struct {
	Source     string // "directory" または "devices"
	Kind       FetchErrorKind
	StatusCode int // HTTPステータス（該当する場合のみ）
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch failed (%s, status %d): %v", e.Source, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch failed (%s): %v", e.Source, e.Kind, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError はFetchErrorを生成する。
func NewFetchError(source string, kind FetchErrorKind, statusCode int, err error) *FetchError {
	return &FetchError{Source: source, Kind: kind, StatusCode: statusCode, Err: err}
}

// AsFetchError はerrのチェーンからFetchErrorを取り出す。
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// NewUpstreamUnavailableError は上流サービス取得失敗エラーを生成する。
// 直前に取得できたデータは保持されていることをユーザーに伝える。
func NewUpstreamUnavailableError(fe *FetchError) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("Failed to fetch data from %s: %s", fe.Source, fe.Kind),
		Category: "upstream",
		Action:   "Previously loaded data is still shown. Check the app registration credentials and API permissions, then retry.",
	}
}

// NewSnapshotNotReadyError は初回同期が未完了の場合のエラーを生成する。
func NewSnapshotNotReadyError() *APIError {
	return &APIError{
		Code:     ErrCodeSnapshotNotReady,
		Message:  "No data has been loaded yet.",
		Category: "system",
		Action:   "Wait for the first synchronization to complete and retry.",
	}
}

// NewForbiddenError は管理者権限が必要な操作のエラーを生成する。
func NewForbiddenError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("You must be an Admin to %s.", action),
		Category: "auth",
		Action:   "Sign in with an Admin account.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewNoUserForRoleError は指定ロールのユーザーが存在しない場合のエラーを生成する。
func NewNoUserForRoleError(role UserRole) *APIError {
	return &APIError{
		Code:     ErrCodeNoUserForRole,
		Message:  fmt.Sprintf("Could not find a user with the role: %s", role),
		Category: "auth",
		Action:   "Assign the role to a directory user (ADMIN_EMAILS) or choose another role.",
	}
}

// NewInvalidRoleError は無効なロール指定のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Invalid role: %s", role),
		Category: "validation",
		Action:   "Specify Admin or Viewer.",
	}
}

// NewInvalidRiskFilterError は無効なリスクフィルタのエラーを生成する。
func NewInvalidRiskFilterError(risk string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRiskFilter,
		Message:  fmt.Sprintf("Invalid risk filter: %s", risk),
		Category: "validation",
		Action:   "Specify one of All, High, Medium, Low or Unknown.",
	}
}
