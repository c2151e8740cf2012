package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
)

// CSRFHeader задаёт заголовок, в котором клиент возвращает токен.
const CSRFHeader = "X-CSRF-TOKEN"

// CSRFGuard выдаёт токены, привязанные к сессии, и проверяет их у изменяющих запросов.
type CSRFGuard struct {
	mu     sync.Mutex
	tokens map[string]string

	// RejectStatus задаёт код ответа на неверный токен, по умолчанию 403.
	RejectStatus int
}

// NewCSRFGuard создаёт CSRFGuard.
func NewCSRFGuard() *CSRFGuard {
	return &CSRFGuard{
		tokens:       make(map[string]string),
		RejectStatus: http.StatusForbidden,
	}
}

// Issue выдаёт новый токен для сессии sid, заменяя прежний.
func (g *CSRFGuard) Issue(sid string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	token := hex.EncodeToString(raw)

	g.mu.Lock()
	g.tokens[sid] = token
	g.mu.Unlock()
	return token
}

// Revoke отзывает токен сессии.
func (g *CSRFGuard) Revoke(sid string) {
	g.mu.Lock()
	delete(g.tokens, sid)
	g.mu.Unlock()
}

// Valid сообщает, что token выдан сессии sid.
func (g *CSRFGuard) Valid(sid, token string) bool {
	if token == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens[sid] == token
}

// Middleware отклоняет изменяющие запросы без действительного токена.
// Должен стоять после SessionMiddleware.
func (g *CSRFGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		sid, _ := SessionIDFromContext(r.Context())
		if !g.Valid(sid, strings.TrimSpace(r.Header.Get(CSRFHeader))) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(g.RejectStatus)
			_, _ = w.Write([]byte(`{"message":"Invalid or missing CSRF token"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RevokeAll отзывает токены всех сессий.
func (g *CSRFGuard) RevokeAll() {
	g.mu.Lock()
	g.tokens = make(map[string]string)
	g.mu.Unlock()
}
