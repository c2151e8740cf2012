package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"echo":` + string(body) + `}`))
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		compressRequest bool
		acceptEncoding  string
		wantEncoding    string
	}{
		{
			name:           "response compressed when accepted",
			body:           `{"amount":4999}`,
			acceptEncoding: "gzip",
			wantEncoding:   "gzip",
		},
		{
			name:         "plain response without accept-encoding",
			body:         `{"amount":4999}`,
			wantEncoding: "",
		},
		{
			name:            "compressed request body is unpacked",
			body:            `{"status":"pending"}`,
			compressRequest: true,
			acceptEncoding:  "gzip",
			wantEncoding:    "gzip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reqBody io.Reader = strings.NewReader(tt.body)
			if tt.compressRequest {
				reqBody = bytes.NewReader(gzipBytes(t, tt.body))
			}

			req := httptest.NewRequest(http.MethodPost, "/api/orders", reqBody)
			if tt.compressRequest {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
			assert.Equal(t, tt.wantEncoding, res.Header.Get("Content-Encoding"))

			var reader io.Reader = res.Body
			if tt.wantEncoding == "gzip" {
				gr, err := gzip.NewReader(res.Body)
				require.NoError(t, err)
				defer gr.Close()
				reader = gr
			}
			body, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.JSONEq(t, `{"echo":`+tt.body+`}`, string(body))
		})
	}
}

func TestGzipMiddleware_NoContent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestGzipMiddleware_BrokenRequestBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
