package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokens struct {
	mu        sync.Mutex
	token     string
	next      []string
	ensured   int
	refreshes int
}

func (s *stubTokens) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubTokens) Ensure(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	if s.token == "" && len(s.next) > 0 {
		s.token, s.next = s.next[0], s.next[1:]
	}
	return s.token
}

func (s *stubTokens) ForceRefresh(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.token = ""
	if len(s.next) > 0 {
		s.token, s.next = s.next[0], s.next[1:]
	}
	return s.token
}

type recorded struct {
	method      string
	path        string
	query       string
	csrf        string
	contentType string
	body        string
}

func recordingServer(t *testing.T, respond func(n int, w http.ResponseWriter, r *http.Request)) (*httptest.Server, func() []recorded) {
	t.Helper()

	var (
		mu   sync.Mutex
		reqs []recorded
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			query:       r.URL.RawQuery,
			csrf:        r.Header.Get(CSRFHeader),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		n := len(reqs)
		mu.Unlock()
		respond(n, w, r)
	}))
	t.Cleanup(ts.Close)

	return ts, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func okHandler(n int, w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequest_ResolvesRelativeAndAbsolutePaths(t *testing.T) {
	ts, reqs := recordingServer(t, okHandler)
	c := NewClient(ts.URL+"/", &stubTokens{}, WithHTTPClient(ts.Client()))

	for _, path := range []string{"/api/products", "api/products", ts.URL + "/api/products"} {
		resp, err := c.Request(context.Background(), path, Options{})
		require.NoError(t, err)
		Discard(resp)
	}

	for _, r := range reqs() {
		assert.Equal(t, "/api/products", r.path)
	}
}

func TestRequest_QueryParameters(t *testing.T) {
	ts, reqs := recordingServer(t, okHandler)
	c := NewClient(ts.URL, &stubTokens{}, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/api/orders/status", Options{
		Query: url.Values{"paymentIntentId": {"pi_1"}},
	})
	require.NoError(t, err)
	Discard(resp)

	assert.Equal(t, "paymentIntentId=pi_1", reqs()[0].query)
}

func TestRequest_RelativePathWithoutBaseURL(t *testing.T) {
	c := NewClient("", &stubTokens{})

	_, err := c.Request(context.Background(), "/api/auth/me", Options{})
	assert.ErrorIs(t, err, ErrBaseURLNotSet)
}

func TestRequest_ReadMethodsSkipCSRF(t *testing.T) {
	ts, reqs := recordingServer(t, okHandler)
	tokens := &stubTokens{next: []string{"tok"}}
	c := NewClient(ts.URL, tokens, WithHTTPClient(ts.Client()))

	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		resp, err := c.Request(context.Background(), "/x", Options{Method: m})
		require.NoError(t, err)
		Discard(resp)
	}

	assert.Zero(t, tokens.ensured)
	for _, r := range reqs() {
		assert.Empty(t, r.csrf)
	}
}

func TestRequest_MutatingEnsuresTokenAndSetsJSON(t *testing.T) {
	ts, reqs := recordingServer(t, okHandler)
	tokens := &stubTokens{next: []string{"tok"}}
	c := NewClient(ts.URL, tokens, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/api/orders", Options{
		Method: http.MethodPost,
		JSON:   map[string]int{"amount": 4999},
	})
	require.NoError(t, err)
	Discard(resp)

	got := reqs()[0]
	assert.Equal(t, 1, tokens.ensured)
	assert.Equal(t, "tok", got.csrf)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, `{"amount":4999}`, got.body)
}

func TestRequest_CachedTokenSkipsEnsure(t *testing.T) {
	ts, reqs := recordingServer(t, okHandler)
	tokens := &stubTokens{token: "cached"}
	c := NewClient(ts.URL, tokens, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/x", Options{Method: http.MethodDelete})
	require.NoError(t, err)
	Discard(resp)

	assert.Zero(t, tokens.ensured)
	assert.Equal(t, "cached", reqs()[0].csrf)
}

func TestRequest_CallerContentTypeKept(t *testing.T) {
	ts, reqs := recordingServer(t, okHandler)
	c := NewClient(ts.URL, &stubTokens{token: "t"}, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/x", Options{
		Method: http.MethodPut,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte("hello"),
	})
	require.NoError(t, err)
	Discard(resp)

	assert.Equal(t, "text/plain", reqs()[0].contentType)
}

func TestRequest_MultipartFormKeepsBoundary(t *testing.T) {
	var files []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		for _, fh := range r.MultipartForm.File["Files"] {
			files = append(files, fh.Filename)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, &stubTokens{token: "t"}, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/api/product-images/1", Options{
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": {"application/json"}},
		Form: &Form{Files: []File{
			{Field: "Files", Name: "a.jpg", Content: []byte("a")},
			{Field: "Files", Name: "b.jpg", Content: []byte("b")},
		}},
	})
	require.NoError(t, err)
	Discard(resp)

	assert.Equal(t, []string{"a.jpg", "b.jpg"}, files)
}

func TestRequest_RetriesOnceOnCSRFRejection(t *testing.T) {
	ts, reqs := recordingServer(t, func(n int, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(CSRFHeader) != "fresh" {
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	tokens := &stubTokens{token: "stale", next: []string{"fresh"}}
	c := NewClient(ts.URL, tokens, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/api/orders", Options{
		Method: http.MethodPost,
		JSON:   map[string]string{"a": "b"},
	})
	require.NoError(t, err)
	Discard(resp)

	got := reqs()
	require.Len(t, got, 2)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, tokens.refreshes)
	assert.Equal(t, "stale", got[0].csrf)
	assert.Equal(t, "fresh", got[1].csrf)
	assert.Equal(t, got[0].body, got[1].body, "replayed body must match")
}

func TestRequest_SecondRejectionIsReturned(t *testing.T) {
	ts, reqs := recordingServer(t, func(n int, w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"CSRF validation failed"}`, http.StatusForbidden)
	})
	tokens := &stubTokens{token: "a", next: []string{"b", "c"}}
	c := NewClient(ts.URL, tokens, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/api/orders", Options{Method: http.MethodPost})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "CSRF validation failed")
	assert.Len(t, reqs(), 2)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestRequest_BadRequestRetryDependsOnBody(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCalls int
	}{
		{name: "antiforgery message", body: "The antiforgery token could not be decrypted.", wantCalls: 2},
		{name: "business validation", body: `{"message":"Insufficient stock"}`, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, reqs := recordingServer(t, func(n int, w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.body, http.StatusBadRequest)
			})
			c := NewClient(ts.URL, &stubTokens{token: "t", next: []string{"u"}}, WithHTTPClient(ts.Client()))

			resp, err := c.Request(context.Background(), "/api/orders", Options{Method: http.MethodPost})
			require.NoError(t, err)

			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			assert.Equal(t, tt.body, strings.TrimSpace(string(body)))
			assert.Len(t, reqs(), tt.wantCalls)
		})
	}
}

func TestRequest_NoRetryOnServerErrorOrRead(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	tokens := &stubTokens{token: "t"}
	c := NewClient(ts.URL, tokens, WithHTTPClient(ts.Client()))

	resp, err := c.Request(context.Background(), "/api/orders", Options{Method: http.MethodPost})
	require.NoError(t, err)
	Discard(resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = c.Request(context.Background(), "/api/auth/me", Options{})
	require.NoError(t, err)
	Discard(resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, tokens.refreshes)
}

func TestRequest_NetworkErrorIsTagged(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	base := ts.URL
	ts.Close()

	c := NewClient(base, &stubTokens{token: "t"})

	_, err := c.Request(context.Background(), "/api/orders", Options{Method: http.MethodPost})
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, KindNetwork, apiErr.Kind)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestRequest_SharesCookies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			return
		}
		c, err := r.Cookie("session")
		if err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, &stubTokens{token: "t"})

	resp, err := c.Request(context.Background(), "/login", Options{Method: http.MethodPost})
	require.NoError(t, err)
	Discard(resp)

	resp, err = c.Request(context.Background(), "/me", Options{})
	require.NoError(t, err)
	Discard(resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
