// Package poller опрашивает бэкенд, пока заказ не получит окончательный статус.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-checkout/internal/model"
	"github.com/mmeshcher/storefront-checkout/internal/storefront"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 15

	// TimeoutMessage отличается от сообщения об отказе в оплате: заказ мог
	// быть оплачен, просто сервер ещё не успел это отразить.
	TimeoutMessage = "We could not confirm your order yet. Please check your order history later."
	FailedMessage  = "Payment for this order failed."
	StoppedMessage = "Order status check was stopped before the order was confirmed."
)

// StatusSource возвращает статус заказа по идентификатору намерения оплаты.
type StatusSource interface {
	OrderStatus(ctx context.Context, paymentIntentID string) (model.OrderStatus, error)
}

// Outcome описывает итог опроса.
type Outcome struct {
	Status    model.OrderStatus
	Confirmed bool
	TimedOut  bool
	Canceled  bool
	Attempts  int
	Message   string
}

// Failed сообщает, что заказ не подтверждён: отказ, таймаут или отмена.
func (o Outcome) Failed() bool {
	return !o.Confirmed
}

// Option настраивает Poller.
type Option func(*Poller)

// WithInterval задаёт паузу между попытками.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithMaxAttempts задаёт предельное число попыток.
func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		p.maxAttempts = n
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// Poller опрашивает статус заказа с фиксированным интервалом и ограниченным
// числом попыток. Одновременно активна не более чем одна фоновая задача.
type Poller struct {
	source      StatusSource
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger

	mu      sync.Mutex
	current *Task
}

// New создаёт Poller.
func New(source StatusSource, opts ...Option) *Poller {
	p := &Poller{
		source:      source,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	return p
}

// Poll опрашивает статус до окончательного результата, исчерпания попыток
// или отмены ctx и ждёт итога. Как и Start, отменяет предыдущий опрос этого
// Poller, а новый вызов Poll или Start отменяет текущий.
func (p *Poller) Poll(ctx context.Context, paymentIntentID string) Outcome {
	return p.Start(ctx, paymentIntentID).Outcome()
}

// Start запускает опрос в фоне. Предыдущая задача, если она ещё идёт,
// отменяется.
func (p *Poller) Start(ctx context.Context, paymentIntentID string) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := newTask(paymentIntentID)
	t.cancel = cancel

	p.mu.Lock()
	prev := p.current
	p.current = t
	p.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	go func() {
		defer cancel()
		t.run(ctx, p)

		p.mu.Lock()
		if p.current == t {
			p.current = nil
		}
		p.mu.Unlock()
	}()
	return t
}

// Stop отменяет текущую фоновую задачу.
func (p *Poller) Stop() {
	p.mu.Lock()
	t := p.current
	p.current = nil
	p.mu.Unlock()

	if t != nil {
		t.Stop()
	}
}

// Task выполняет фоновый опрос одного намерения оплаты.
type Task struct {
	paymentIntentID string
	cancel          context.CancelFunc
	done            chan struct{}

	attempts int
	outcome  Outcome
}

func newTask(paymentIntentID string) *Task {
	return &Task{
		paymentIntentID: paymentIntentID,
		cancel:          func() {},
		done:            make(chan struct{}),
	}
}

// PaymentIntentID возвращает идентификатор опрашиваемого намерения.
func (t *Task) PaymentIntentID() string {
	return t.paymentIntentID
}

// Stop отменяет задачу. Повторный вызов безопасен.
func (t *Task) Stop() {
	t.cancel()
}

// Done закрывается по завершении задачи.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Outcome ждёт завершения задачи и возвращает итог.
func (t *Task) Outcome() Outcome {
	<-t.done
	return t.outcome
}

func (t *Task) run(ctx context.Context, p *Poller) {
	defer close(t.done)

	log := p.logger.With(zap.String("payment_intent", t.paymentIntentID))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.outcome = Outcome{Canceled: true, Attempts: t.attempts, Message: StoppedMessage}
			log.Debug("order status polling cancelled", zap.Int("attempts", t.attempts))
			return
		case <-timer.C:
		}

		t.attempts++
		status, err := p.source.OrderStatus(ctx, t.paymentIntentID)
		switch {
		case err == nil && status.IsConfirmed():
			t.outcome = Outcome{Status: status, Confirmed: true, Attempts: t.attempts}
			log.Info("order confirmed", zap.String("status", string(status)), zap.Int("attempts", t.attempts))
			return
		case err == nil && status.IsFailed():
			t.outcome = Outcome{Status: status, Attempts: t.attempts, Message: FailedMessage}
			log.Info("order failed", zap.String("status", string(status)), zap.Int("attempts", t.attempts))
			return
		case errors.Is(err, storefront.ErrNotFound):
			log.Debug("order not visible yet", zap.Int("attempt", t.attempts))
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			log.Warn("order status check failed", zap.Int("attempt", t.attempts), zap.Error(err))
		default:
			log.Debug("order still pending", zap.String("status", string(status)), zap.Int("attempt", t.attempts))
		}

		if t.attempts >= p.maxAttempts {
			t.outcome = Outcome{
				Status:   model.OrderStatusPending,
				TimedOut: true,
				Attempts: t.attempts,
				Message:  TimeoutMessage,
			}
			log.Warn("order status polling timed out", zap.Int("attempts", t.attempts))
			return
		}
		timer.Reset(p.interval)
	}
}
