// Package payment подтверждает намерения оплаты у платёжного провайдера.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"go.uber.org/zap"
)

// Card содержит платёжные данные, собранные у покупателя. Провайдер принимает
// токенизированный метод оплаты, номер карты клиент не видит.
type Card struct {
	PaymentMethod string
}

// Confirmation описывает ответ провайдера на подтверждение.
type Confirmation struct {
	PaymentIntentID string
	Status          string
}

// Succeeded сообщает, что провайдер списал средства.
func (c *Confirmation) Succeeded() bool {
	return c.Status == string(stripe.PaymentIntentStatusSucceeded)
}

// Processor подтверждает намерение оплаты по client secret.
type Processor interface {
	Confirm(ctx context.Context, clientSecret string, card Card) (*Confirmation, error)
}

// Error описывает отказ провайдера. Declined означает окончательный отказ в оплате
// (отклонённая карта или неуспешный терминальный статус).
type Error struct {
	Message  string
	Declined bool
	Err      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInvalidClientSecret возвращается, если из client secret нельзя извлечь идентификатор.
var ErrInvalidClientSecret = errors.New("invalid payment intent client secret")

// StripeProcessor подтверждает намерения оплаты через Stripe API публикуемым ключом.
type StripeProcessor struct {
	client paymentintent.Client
	logger *zap.Logger
}

// StripeOption настраивает StripeProcessor.
type StripeOption func(*stripe.BackendConfig)

// WithAPIURL задаёт адрес Stripe API (например, локальный эмулятор).
func WithAPIURL(url string) StripeOption {
	return func(c *stripe.BackendConfig) {
		if url != "" {
			c.URL = stripe.String(strings.TrimRight(url, "/"))
		}
	}
}

// WithHTTPClient задаёт HTTP-клиент для запросов к Stripe.
func WithHTTPClient(hc *http.Client) StripeOption {
	return func(c *stripe.BackendConfig) {
		c.HTTPClient = hc
	}
}

// NewStripeProcessor создаёт процессор с публикуемым ключом publishableKey.
// Сетевые повторы отключены: подтверждение не повторяется автоматически.
func NewStripeProcessor(publishableKey string, logger *zap.Logger, opts ...StripeOption) *StripeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &StripeProcessor{
		client: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
			Key: publishableKey,
		},
		logger: logger,
	}
}

// Confirm подтверждает намерение оплаты. Отказ по карте и неуспешный
// терминальный статус возвращаются как *Error с Declined == true.
func (p *StripeProcessor) Confirm(ctx context.Context, clientSecret string, card Card) (*Confirmation, error) {
	id, err := IntentID(clientSecret)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	params.AddExtra("client_secret", clientSecret)
	if card.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(card.PaymentMethod)
	}

	pi, err := p.client.Confirm(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			p.logger.Info("payment confirmation rejected",
				zap.String("payment_intent", id),
				zap.String("type", string(stripeErr.Type)),
				zap.String("code", string(stripeErr.Code)),
			)
			return nil, &Error{
				Message:  stripeErr.Msg,
				Declined: stripeErr.Type == stripe.ErrorTypeCard,
				Err:      err,
			}
		}
		return nil, fmt.Errorf("confirm payment intent: %w", err)
	}

	conf := &Confirmation{PaymentIntentID: pi.ID, Status: string(pi.Status)}
	if conf.Succeeded() {
		return conf, nil
	}

	msg := fmt.Sprintf("Payment was not completed (status: %s)", pi.Status)
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		msg = pi.LastPaymentError.Msg
	}
	return conf, &Error{Message: msg, Declined: true}
}

// IntentID извлекает идентификатор намерения из client secret вида "<id>_secret_<...>".
func IntentID(clientSecret string) (string, error) {
	id, _, ok := strings.Cut(clientSecret, "_secret_")
	if !ok || id == "" {
		return "", ErrInvalidClientSecret
	}
	return id, nil
}
