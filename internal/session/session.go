// Package session отслеживает, кто сейчас пользуется витриной: гость или
// аутентифицированный пользователь.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-checkout/internal/model"
)

// State описывает состояние сессии.
type State string

const (
	StateRestoring     State = "restoring"
	StateGuest         State = "guest"
	StateAuthenticated State = "authenticated"
)

// Backend описывает операции бэкенда аутентификации.
type Backend interface {
	Me(ctx context.Context) (*model.User, error)
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, email, password, name string) error
	Logout(ctx context.Context) error
}

// Tokens описывает операции над анти-CSRF токеном, нужные сессии.
type Tokens interface {
	Ensure(ctx context.Context) string
	ForceRefresh(ctx context.Context) string
	Clear()
}

// Manager хранит текущего пользователя. Конкурентные вызовы не объединяются:
// каждый выполняет свои запросы.
type Manager struct {
	backend Backend
	tokens  Tokens
	logger  *zap.Logger

	mu    sync.RWMutex
	state State
	user  *model.User
}

// NewManager создаёт менеджер в состоянии restoring.
func NewManager(backend Backend, tokens Tokens, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend: backend,
		tokens:  tokens,
		logger:  logger,
		state:   StateRestoring,
	}
}

// Restore восстанавливает сессию по cookie. Любая ошибка переводит в гостя.
func (m *Manager) Restore(ctx context.Context) *model.User {
	m.set(StateRestoring, nil)

	// Токен нужен заранее, чтобы первый изменяющий запрос не ждал загрузки.
	m.tokens.Ensure(ctx)

	return m.refreshUser(ctx)
}

// Login выполняет вход. При ошибке пользователь остаётся гостем, а ошибка
// содержит сообщение сервера или "Login failed (<status>)".
func (m *Manager) Login(ctx context.Context, email, password string) (*model.User, error) {
	if err := m.backend.Login(ctx, email, password); err != nil {
		m.set(StateGuest, nil)
		m.logger.Info("login failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return m.afterIdentityChange(ctx)
}

// Register создаёт учётную запись и выполняет вход.
func (m *Manager) Register(ctx context.Context, email, password, name string) (*model.User, error) {
	if err := m.backend.Register(ctx, email, password, name); err != nil {
		m.set(StateGuest, nil)
		m.logger.Info("registration failed", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	return m.afterIdentityChange(ctx)
}

// Logout завершает сессию. Локальное состояние сбрасывается в любом случае,
// ошибки сервера только логируются.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.backend.Logout(ctx); err != nil {
		m.logger.Warn("logout request failed", zap.Error(err))
	}
	m.set(StateGuest, nil)
	m.tokens.Clear()
}

// User возвращает текущего пользователя или nil для гостя.
func (m *Manager) User() *model.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// State возвращает текущее состояние.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Authenticated сообщает, вошёл ли пользователь.
func (m *Manager) Authenticated() bool {
	return m.State() == StateAuthenticated
}

func (m *Manager) afterIdentityChange(ctx context.Context) (*model.User, error) {
	// Прежний токен привязан к анонимной сессии.
	m.tokens.ForceRefresh(ctx)

	u, err := m.backend.Me(ctx)
	if err != nil {
		m.set(StateGuest, nil)
		return nil, err
	}
	m.set(StateAuthenticated, u)
	return u, nil
}

func (m *Manager) refreshUser(ctx context.Context) *model.User {
	u, err := m.backend.Me(ctx)
	if err != nil {
		m.logger.Debug("session restore failed, continuing as guest", zap.Error(err))
		m.set(StateGuest, nil)
		return nil
	}
	m.set(StateAuthenticated, u)
	return u
}

func (m *Manager) set(state State, u *model.User) {
	m.mu.Lock()
	m.state = state
	m.user = u
	m.mu.Unlock()
}
