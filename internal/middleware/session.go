// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/secureops/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// sessionHolderContextKey はロギングミドルウェアにセッションを渡すためのキー。
var sessionHolderContextKey = contextKey("session_holder")

// sessionHolder は内側のミドルウェアで確定したセッションを外側へ渡す。
type sessionHolder struct {
	session *model.Session
}

func contextWithSessionHolder(ctx context.Context, h *sessionHolder) context.Context {
	return context.WithValue(ctx, sessionHolderContextKey, h)
}

// SessionDecoder はリクエストのCookieからセッションIDを取り出す。
// auth.CookieCodecが実装する。
type SessionDecoder interface {
	SessionIDFromRequest(r *http.Request) (string, error)
}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware は署名付きCookieからセッションを読み取り、
// 有効性を検証するミドルウェアを返す。
// 有効なセッションをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewSessionMiddleware(decoder SessionDecoder, sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. CookieからセッションIDを取得（署名検証を含む）
			sessionID, err := decoder.SessionIDFromRequest(r)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. セッションの有効性を検証
			session, err := sessionFinder.FindByID(r.Context(), sessionID)
			if err != nil {
				slog.Error("failed to find session",
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. セッションをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// NewRequireAdminMiddleware は管理者ロール以外のリクエストを403で拒否するミドルウェアを返す。
// actionはエラーメッセージに表示する操作名。SessionMiddlewareの後に配置する。
func NewRequireAdminMiddleware(action string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := SessionFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if session.Role != model.RoleAdmin {
				slog.Warn("admin role required",
					slog.String("user_id", session.UserID),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(action))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || session == nil {
		return nil, fmt.Errorf("session not found in context")
	}
	return session, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	session, err := SessionFromContext(ctx)
	if err != nil || session.UserID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return session.UserID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// ロギングミドルウェアの配下であれば、ログにもユーザーが記録される。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	if h, ok := ctx.Value(sessionHolderContextKey).(*sessionHolder); ok {
		h.session = session
	}
	return context.WithValue(ctx, sessionContextKey, session)
}
