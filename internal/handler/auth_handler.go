package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/secureops/internal/middleware"
	"github.com/hitoshi/secureops/internal/model"
	"github.com/hitoshi/secureops/internal/snapshot"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginAsRole(ctx context.Context, role model.UserRole) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// SessionCookieStore はセッションCookieの読み書きを行う。
// auth.CookieCodecが実装する。
type SessionCookieStore interface {
	SessionIDFromRequest(r *http.Request) (string, error)
	SetSession(w http.ResponseWriter, sessionID string, expiresAt time.Time) error
	ClearSession(w http.ResponseWriter)
}

// SnapshotReader は現在のスナップショットを返す。
type SnapshotReader interface {
	Current() snapshot.Status
}

// loginRequest はPOST /auth/loginのリクエストボディ。
type loginRequest struct {
	Role string `json:"role"`
}

// sessionResponse はログイン中ユーザーのJSONレスポンス。
type sessionResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// AuthHandler はログインシミュレーションとセッション管理のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	cookies   SessionCookieStore
	snapshots SnapshotReader
	present   presenter
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies SessionCookieStore, snapshots SnapshotReader, p presenter) *AuthHandler {
	return &AuthHandler{
		service:   service,
		cookies:   cookies,
		snapshots: snapshots,
		present:   p,
	}
}

// Login は指定ロールの最初のユーザーとしてログインする。
// POST /auth/login {"role":"Admin"}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(""))
		return
	}

	role, ok := model.ParseUserRole(req.Role)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRoleError(req.Role))
		return
	}

	session, err := h.service.LoginAsRole(r.Context(), role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.cookies.SetSession(w, session.ID, session.ExpiresAt); err != nil {
		slog.Error("failed to set session cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, h.sessionResponse(session))
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.cookies.SessionIDFromRequest(r)
	if err == nil && sessionID != "" {
		if logoutErr := h.service.Logout(r.Context(), sessionID); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	h.cookies.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me はログイン中のユーザー情報を返す。SessionMiddlewareの後に配置する。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, err := middleware.SessionFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, h.sessionResponse(session))
}

// sessionResponse はセッションのユーザー情報をレスポンスに変換する。
// 最新のスナップショットにユーザーがいれば、写真や役職などの詳細を補完する。
func (h *AuthHandler) sessionResponse(session *model.Session) sessionResponse {
	user := model.User{
		ID:          session.UserID,
		DisplayName: session.DisplayName,
		Mail:        session.Mail,
		Role:        session.Role,
	}
	if h.snapshots != nil {
		if u, ok := h.snapshots.Current().Snapshot.FindUser(session.UserID); ok {
			user = u
			user.Role = session.Role
		}
	}
	return sessionResponse{
		User:      h.present.user(user),
		ExpiresAt: session.ExpiresAt.UTC(),
	}
}
