// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// UserRole はダッシュボード上の権限レベルを表す。
type UserRole string

const (
	// RoleAdmin はエクスポートと再同期を実行できる管理者。
	RoleAdmin UserRole = "Admin"
	// RoleViewer は閲覧のみ可能な利用者。
	RoleViewer UserRole = "Viewer"
)

// ParseUserRole は文字列をUserRoleに変換する。大文字小文字は区別しない。
func ParseUserRole(s string) (UserRole, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, true
	case "viewer":
		return RoleViewer, true
	default:
		return "", false
	}
}

// User はディレクトリサービスから取得した組織ユーザーを表す。
// Mailは大文字小文字を区別せずに比較される結合キー。
type User struct {
	ID          string
	DisplayName string
	Mail        string
	JobTitle    string
	Department  string
	Role        UserRole
	PhotoURL    string
}

// IsAdmin はユーザーが管理者権限を持つかどうかを返す。
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session はログインシミュレーションで発行されたセッションを表す。
// ユーザー情報はログイン時点のスナップショットから複製して保持する。
type Session struct {
	ID          string
	UserID      string
	DisplayName string
	Mail        string
	Role        UserRole
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
