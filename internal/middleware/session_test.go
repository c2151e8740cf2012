package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureSession(t *testing.T, m *SessionMiddleware, r *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()

	var sid string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		sid, ok = SessionIDFromContext(r.Context())
		require.True(t, ok, "session id not in context")
	})

	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)
	return sid, w
}

func TestSessionMiddleware_IssuesSessionForNewClient(t *testing.T) {
	m := NewSessionMiddleware("test-secret")

	sid, w := captureSession(t, m, httptest.NewRequest(http.MethodGet, "/api/security/csrf-token", nil))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotEmpty(t, sid)
}

func TestSessionMiddleware_KeepsValidSession(t *testing.T) {
	m := NewSessionMiddleware("test-secret")
	first, w := captureSession(t, m, httptest.NewRequest(http.MethodGet, "/", nil))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(w.Result().Cookies()[0])
	second, w2 := captureSession(t, m, r)

	assert.Equal(t, first, second)
	assert.Empty(t, w2.Result().Cookies())
}

func TestSessionMiddleware_RejectsForgedCookie(t *testing.T) {
	m := NewSessionMiddleware("test-secret")
	other := NewSessionMiddleware("other-secret")

	w := httptest.NewRecorder()
	forgedSID := other.Rotate(w)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(w.Result().Cookies()[0])
	sid, w2 := captureSession(t, m, r)

	assert.NotEqual(t, forgedSID, sid)
	assert.Len(t, w2.Result().Cookies(), 1)
}

func TestRotate_ChangesSession(t *testing.T) {
	m := NewSessionMiddleware("")

	a := m.Rotate(httptest.NewRecorder())
	b := m.Rotate(httptest.NewRecorder())
	assert.NotEqual(t, a, b)
}
