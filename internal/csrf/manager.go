// Package csrf управляет анти-CSRF токеном, привязанным к сессии витрины.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Endpoint задаёт путь, по которому бэкенд выдаёт токен.
const Endpoint = "/api/security/csrf-token"

const (
	headerName = "X-CSRF-TOKEN"
	flightKey  = "csrf-token"
	// maxLoads ограничивает число перезапросов, если кэш сбросили во время загрузки.
	maxLoads = 2
	// fetchTimeout ограничивает общую загрузку, которая не зависит от отмены
	// контекста отдельного вызывающего.
	fetchTimeout = 10 * time.Second
)

var errEmptyToken = errors.New("csrf token missing in response")

// Manager хранит не более одного токена и гарантирует, что одновременно
// выполняется не больше одного запроса за токеном.
type Manager struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger

	group singleflight.Group

	mu         sync.Mutex
	token      string
	generation uint64
}

// NewManager создаёт менеджер токенов. httpClient должен разделять cookie
// с API-клиентом, иначе токен будет выдан другой сессии.
func NewManager(baseURL string, httpClient *http.Client, logger *zap.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		url:        strings.TrimRight(baseURL, "/") + Endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Token возвращает закэшированный токен без обращения к сети.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Ensure возвращает закэшированный токен или загружает новый. Конкурентные
// вызовы разделяют один запрос; отмена ctx одного вызывающего не прерывает
// загрузку для остальных. При ошибке или отмене ctx ничего не кэшируется и
// возвращается пустая строка.
func (m *Manager) Ensure(ctx context.Context) string {
	if token := m.Token(); token != "" {
		return token
	}

	ch := m.group.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return m.load(loadCtx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

// ForceRefresh сбрасывает токен и загружает новый. Вызывается после смены
// идентичности сессии (вход, регистрация) и после отказа по CSRF.
func (m *Manager) ForceRefresh(ctx context.Context) string {
	m.Clear()
	return m.Ensure(ctx)
}

// Clear сбрасывает токен без загрузки нового.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = ""
	m.generation++
	m.mu.Unlock()
}

func (m *Manager) load(ctx context.Context) string {
	for i := 0; i < maxLoads; i++ {
		m.mu.Lock()
		if m.token != "" {
			token := m.token
			m.mu.Unlock()
			return token
		}
		gen := m.generation
		m.mu.Unlock()

		token, err := m.fetch(ctx)
		if err != nil {
			m.logger.Warn("failed to fetch csrf token", zap.Error(err))
			return ""
		}

		m.mu.Lock()
		if m.generation == gen {
			m.token = token
			m.mu.Unlock()
			return token
		}
		m.mu.Unlock()

		// Токен сбросили, пока шёл запрос: он мог принадлежать прежней сессии.
		m.logger.Debug("csrf token invalidated during fetch, reloading")
	}
	return ""
}

func (m *Manager) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if token := resp.Header.Get(headerName); token != "" {
		return token, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var body struct {
		Token        string `json:"token"`
		RequestToken string `json:"requestToken"`
		CSRFToken    string `json:"csrfToken"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	for _, token := range []string{body.Token, body.RequestToken, body.CSRFToken} {
		if token != "" {
			return token, nil
		}
	}
	return "", errEmptyToken
}
