// Package middleware содержит HTTP middleware тестового бэкенда витрины.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

const (
	// SessionCookieName задаёт имя cookie с идентификатором сессии.
	SessionCookieName = "sid"
	sessionCookieTTL  = 24 * time.Hour
)

// SessionMiddleware выдаёт каждому клиенту сессию в подписанном cookie.
// Сессия существует и у гостя: к ней привязывается анти-CSRF токен.
type SessionMiddleware struct {
	secretKey []byte
}

// NewSessionMiddleware создаёт middleware с ключом подписи secret. Пустой
// ключ заменяется случайным.
func NewSessionMiddleware(secret string) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}

	return &SessionMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии, при отсутствии или неверной подписи
// выдаёт новую, и кладёт идентификатор сессии в контекст запроса.
func (s *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			sid, _ = s.parseCookie(cookie.Value)
		}
		if sid == "" {
			sid = s.Rotate(w)
		}

		ctx := context.WithValue(r.Context(), sessionIDKey, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Rotate выдаёт новую сессию и возвращает её идентификатор. Вызывается при
// входе и выходе, чтобы прежние токены перестали действовать.
func (s *SessionMiddleware) Rotate(w http.ResponseWriter) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	sid := hex.EncodeToString(raw)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.sign(sid),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}

func (s *SessionMiddleware) sign(sid string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(sid))
	return sid + "." + hex.EncodeToString(mac.Sum(nil))
}

func (s *SessionMiddleware) parseCookie(value string) (string, bool) {
	sid, signature, ok := strings.Cut(value, ".")
	if !ok || sid == "" {
		return "", false
	}

	_, expected, _ := strings.Cut(s.sign(sid), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", false
	}
	return sid, true
}

// SessionIDFromContext извлекает идентификатор сессии из контекста запроса.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDKey).(string)
	return sid, ok && sid != ""
}

// WithSessionID кладёт идентификатор сессии в контекст.
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sid)
}
