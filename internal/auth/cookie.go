package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// SessionCookieName はセッションCookieの名前。
const SessionCookieName = "secureops_session"

// CookieCodec はセッションIDを署名・暗号化してCookie値に変換する。
type CookieCodec struct {
	sc     *securecookie.SecureCookie
	maxAge int
	secure bool
	domain string
}

// CookieConfig はCookieの属性。
type CookieConfig struct {
	Secret string // SESSION_SECRET
	MaxAge int    // 秒
	Secure bool   // HTTPSの場合にSecure属性を付与する
	Domain string
}

// NewCookieCodec はSESSION_SECRETから署名鍵と暗号鍵を導出してCookieCodecを生成する。
func NewCookieCodec(cfg CookieConfig) *CookieCodec {
	hashKey := sha256.Sum256([]byte("secureops-hash:" + cfg.Secret))
	blockKey := sha256.Sum256([]byte("secureops-block:" + cfg.Secret))

	sc := securecookie.New(hashKey[:], blockKey[:])
	sc.MaxAge(cfg.MaxAge)
	sc.SetSerializer(securecookie.JSONEncoder{})

	return &CookieCodec{
		sc:     sc,
		maxAge: cfg.MaxAge,
		secure: cfg.Secure,
		domain: cfg.Domain,
	}
}

// Encode はセッションIDをCookie値に変換する。
func (c *CookieCodec) Encode(sessionID string) (string, error) {
	v, err := c.sc.Encode(SessionCookieName, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to encode session cookie: %w", err)
	}
	return v, nil
}

// Decode はCookie値を検証してセッションIDを取り出す。
// 改ざんや期限切れの場合はエラーを返す。
func (c *CookieCodec) Decode(value string) (string, error) {
	var sessionID string
	if err := c.sc.Decode(SessionCookieName, value, &sessionID); err != nil {
		return "", fmt.Errorf("failed to decode session cookie: %w", err)
	}
	return sessionID, nil
}

// SessionIDFromRequest はリクエストのCookieからセッションIDを取り出す。
func (c *CookieCodec) SessionIDFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", fmt.Errorf("session cookie not found")
	}
	return c.Decode(cookie.Value)
}

// SetSession はセッションCookieをレスポンスに設定する。
func (c *CookieCodec) SetSession(w http.ResponseWriter, sessionID string, expiresAt time.Time) error {
	value, err := c.Encode(sessionID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		Expires:  expiresAt,
		MaxAge:   c.maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// ClearSession はセッションCookieを削除する。
func (c *CookieCodec) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   c.domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
