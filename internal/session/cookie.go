package session

import (
	"net/http"
	"strings"
	"time"
)

// CookieName はセッションCookieの名前。
const CookieName = "campushub.sid"

// Cookie はセッションCookieの属性を保持し、読み書きを行う。
type Cookie struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// NewCookie はCookieを生成する。baseURLがhttpsの場合にSecure属性を付与する。
func NewCookie(baseURL, domain string, maxAge time.Duration) *Cookie {
	return &Cookie{
		Name:   CookieName,
		Domain: domain,
		Secure: strings.HasPrefix(strings.ToLower(baseURL), "https://"),
		MaxAge: maxAge,
	}
}

// Read はリクエストからセッションIDを取得する。
func (c *Cookie) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Write はセッションCookieを設定する。認証済みリクエストのたびに呼び、有効期限を延長する。
func (c *Cookie) Write(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    id,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はセッションCookieを削除する。
func (c *Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
