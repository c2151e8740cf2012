// Package api предоставляет HTTP-клиент витрины: cookie-сессию, CSRF-заголовок
// для изменяющих запросов и однократный повтор после отказа по CSRF.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// CSRFHeader задаёт заголовок, в котором передаётся анти-CSRF токен.
const CSRFHeader = "X-CSRF-TOKEN"

// ErrBaseURLNotSet возвращается при запросе по относительному пути без базового адреса.
var ErrBaseURLNotSet = errors.New("api base URL is not set")

// TokenSource описывает источник анти-CSRF токена.
type TokenSource interface {
	Token() string
	Ensure(ctx context.Context) string
	ForceRefresh(ctx context.Context) string
}

// Client выполняет запросы к бэкенду витрины.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт HTTP-клиент. Для передачи cookie у него должен быть Jar.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewHTTPClient создаёт HTTP-клиент с хранилищем cookie. Таймаут не задаётся:
// зависший запрос ограничивается только контекстом и транспортом.
func NewHTTPClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

// NewClient создаёт клиент с базовым адресом baseURL и источником токенов tokens.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient()
	}
	return c
}

// HTTPClient возвращает используемый HTTP-клиент вместе с его cookie.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// BaseURL возвращает базовый адрес бэкенда.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// File описывает файл в multipart-форме.
type File struct {
	Field   string
	Name    string
	Content []byte
}

// Form описывает тело multipart/form-data. Content-Type с границей выставляет клиент.
type Form struct {
	Fields map[string]string
	Files  []File
}

// Options задаёт параметры одного запроса. Из JSON, Body и Form используется
// первое непустое поле.
type Options struct {
	Method string
	Header http.Header
	Query  url.Values
	JSON   any
	Body   []byte
	Form   *Form
}

// Request выполняет запрос к path. Относительный путь разрешается от базового
// адреса, абсолютный URL используется как есть. Для изменяющих методов
// добавляется заголовок X-CSRF-TOKEN; если сервер отклонил запрос по CSRF,
// токен обновляется и запрос повторяется ровно один раз. Ответ второй попытки
// возвращается без изменений. Ошибки транспорта возвращаются как *Error вида
// KindNetwork.
func (c *Client) Request(ctx context.Context, path string, opts Options) (*http.Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(path, opts.Query)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}

	mutating := needsCSRF(method)
	if mutating && c.tokens.Token() == "" {
		c.tokens.Ensure(ctx)
	}

	resp, err := c.send(ctx, method, target, body, contentType, opts.Header, mutating)
	if err != nil {
		return nil, Network(err)
	}

	if !mutating || !isCSRFRejection(resp) {
		return resp, nil
	}

	c.logger.Debug("request rejected by csrf check, refreshing token",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
	)
	resp.Body.Close()

	c.tokens.ForceRefresh(ctx)

	resp, err = c.send(ctx, method, target, body, contentType, opts.Header, mutating)
	if err != nil {
		return nil, Network(err)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, contentType string, header http.Header, mutating bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}
	switch {
	case strings.HasPrefix(contentType, "multipart/"):
		req.Header.Set("Content-Type", contentType)
	case contentType != "" && req.Header.Get("Content-Type") == "":
		req.Header.Set("Content-Type", contentType)
	}
	if mutating {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set(CSRFHeader, token)
		}
	}

	return c.httpClient.Do(req)
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	target := path
	if !isAbsolute(path) {
		if c.baseURL == "" {
			return "", ErrBaseURLNotSet
		}
		if strings.HasPrefix(path, "/") {
			target = c.baseURL + path
		} else {
			target = c.baseURL + "/" + path
		}
	}

	if len(query) == 0 {
		return target, nil
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isAbsolute(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func needsCSRF(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// isCSRFRejection проверяет ответ на отказ по CSRF: 403 всегда, 400 только
// если тело упоминает CSRF. Тело ответа остаётся доступным для чтения.
func isCSRFRejection(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return err == nil && mentionsCSRF(raw)
	}
	return false
}

func encodeBody(opts Options) ([]byte, string, error) {
	switch {
	case opts.JSON != nil:
		raw, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, "", err
		}
		return raw, "application/json", nil
	case opts.Body != nil:
		return opts.Body, "application/json", nil
	case opts.Form != nil:
		return encodeForm(opts.Form)
	}
	return nil, "", nil
}

func encodeForm(form *Form) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range form.Fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	for _, f := range form.Files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// DecodeJSON декодирует тело ответа в v и закрывает его.
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Discard дочитывает и закрывает тело ответа.
func Discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
