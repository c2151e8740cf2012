package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State описывает шаг попытки оформления заказа.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateCreatingIntent    State = "creating_intent"
	StateCreatingOrder     State = "creating_order"
	StateConfirmingPayment State = "confirming_payment"
	StatePolling           State = "polling"
	StateConfirmed         State = "confirmed"
	StateFailed            State = "failed"
)

// Blocking сообщает, что попытка в этом состоянии не даёт начать новую для той же корзины.
func (s State) Blocking() bool {
	switch s {
	case StateValidating, StateCreatingIntent, StateCreatingOrder,
		StateConfirmingPayment, StatePolling, StateConfirmed:
		return true
	}
	return false
}

// ErrAttemptInProgress возвращается, если для корзины уже идёт или завершилась попытка.
var ErrAttemptInProgress = errors.New("checkout already in progress for this cart")

// Attempt описывает запись о попытке оформления.
type Attempt struct {
	ID              string
	CartKey         string
	State           State
	PaymentIntentID string
	OrderID         int64
	Message         string
	UpdatedAt       time.Time
}

// AttemptStore хранит попытки и служит защитой от повторной отправки.
type AttemptStore interface {
	// Begin атомарно регистрирует новую попытку в состоянии validating либо
	// возвращает ErrAttemptInProgress.
	Begin(ctx context.Context, cartKey string) (*Attempt, error)
	Update(ctx context.Context, a Attempt) error
}

// MemoryAttempts хранит попытки в памяти процесса.
type MemoryAttempts struct {
	mu       sync.Mutex
	attempts map[string]Attempt
}

// NewMemoryAttempts создаёт пустое хранилище.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{attempts: make(map[string]Attempt)}
}

func (m *MemoryAttempts) Begin(_ context.Context, cartKey string) (*Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.attempts[cartKey]; ok && prev.State.Blocking() {
		return nil, ErrAttemptInProgress
	}

	a := Attempt{
		ID:        uuid.NewString(),
		CartKey:   cartKey,
		State:     StateValidating,
		UpdatedAt: time.Now(),
	}
	m.attempts[cartKey] = a
	return &a, nil
}

func (m *MemoryAttempts) Update(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Обновление устаревшей попытки не должно перетирать более новую.
	if cur, ok := m.attempts[a.CartKey]; ok && cur.ID != a.ID {
		return nil
	}
	m.attempts[a.CartKey] = a
	return nil
}

// Get возвращает последнюю попытку для корзины.
func (m *MemoryAttempts) Get(cartKey string) (Attempt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[cartKey]
	return a, ok
}
