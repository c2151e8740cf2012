// Package checkout проводит оформление заказа: намерение оплаты, заказ,
// подтверждение у провайдера и сверку статуса с сервером.
package checkout

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-checkout/internal/api"
	"github.com/mmeshcher/storefront-checkout/internal/cart"
	"github.com/mmeshcher/storefront-checkout/internal/model"
	"github.com/mmeshcher/storefront-checkout/internal/payment"
	"github.com/mmeshcher/storefront-checkout/internal/poller"
	"github.com/mmeshcher/storefront-checkout/internal/storefront"
	"github.com/mmeshcher/storefront-checkout/internal/validation"
)

const (
	inProgressMessage     = "Your order is already being processed."
	intentUnusableMessage = "Payment could not be started. Please try again."
)

// Backend описывает вызовы бэкенда, нужные для оформления.
type Backend interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64) (*model.PaymentIntent, error)
	CreateOrder(ctx context.Context, req storefront.CreateOrderRequest) (*model.Order, error)
}

// StatusPoller сверяет статус заказа с сервером.
type StatusPoller interface {
	Poll(ctx context.Context, paymentIntentID string) poller.Outcome
}

// Identity сообщает, вошёл ли покупатель.
type Identity interface {
	Authenticated() bool
}

// Request содержит данные одной отправки формы оформления. Guest обязателен,
// если покупатель не вошёл.
type Request struct {
	Cart    *cart.Cart
	Address model.ShippingAddress
	Guest   *model.GuestContact
	Card    payment.Card
}

// Result описывает итог оформления. ProcessorConfirmed отражает ответ
// провайдера, OrderStatus хранит статус, подтверждённый сервером.
type Result struct {
	AttemptID          string
	State              State
	OrderID            int64
	PaymentIntentID    string
	ProcessorConfirmed bool
	OrderStatus        model.OrderStatus
	Poll               poller.Outcome
}

// OrderConfirmed сообщает, что сервер подтвердил оплату заказа.
func (r *Result) OrderConfirmed() bool {
	return r != nil && r.OrderStatus.IsConfirmed()
}

// Orchestrator выполняет попытки оформления строго последовательно по шагам.
type Orchestrator struct {
	backend   Backend
	processor payment.Processor
	poller    StatusPoller
	identity  Identity
	attempts  AttemptStore
	logger    *zap.Logger
	observer  func(Attempt)
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithAttemptStore задаёт хранилище попыток. По умолчанию используется MemoryAttempts.
func WithAttemptStore(s AttemptStore) Option {
	return func(o *Orchestrator) {
		o.attempts = s
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithObserver задаёт функцию, получающую каждую смену состояния попытки.
func WithObserver(fn func(Attempt)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(backend Backend, processor payment.Processor, statusPoller StatusPoller, identity Identity, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:   backend,
		processor: processor,
		poller:    statusPoller,
		identity:  identity,
		attempts:  NewMemoryAttempts(),
		logger:    zap.NewNop(),
		observer:  func(Attempt) {},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit проводит одну попытку оформления. Ошибки возвращаются как *api.Error.
// Сетевые и бизнес-ошибки возвращают попытку в idle, окончательный отказ
// в оплате переводит её в failed. После успеха у провайдера корзина
// очищается, и Result возвращается даже при ошибке сверки статуса.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Result, error) {
	if req.Cart == nil {
		return nil, api.Errorf(api.KindValidation, "Your cart is empty.")
	}

	key := req.Cart.Key()
	attempt, err := o.attempts.Begin(ctx, key)
	if err != nil {
		if errors.Is(err, ErrAttemptInProgress) {
			o.logger.Info("checkout rejected, attempt in progress", zap.String("cart", key))
			return nil, &api.Error{Kind: api.KindBusiness, Message: inProgressMessage, Err: err}
		}
		o.logger.Error("failed to begin checkout attempt", zap.String("cart", key), zap.Error(err))
		return nil, &api.Error{Kind: api.KindServer, Message: "Checkout is temporarily unavailable.", Err: err}
	}

	log := o.logger.With(zap.String("attempt", attempt.ID), zap.String("cart", req.Cart.ID()))
	o.observer(*attempt)

	res, err := o.run(ctx, log, attempt, req)
	if err != nil {
		state := StateIdle
		var payErr *payment.Error
		if errors.As(err, &payErr) && payErr.Declined {
			state = StateFailed
		}
		if res != nil && res.ProcessorConfirmed {
			state = res.State
		}

		apiErr := toAPIError(err)
		attempt.Message = apiErr.Message
		o.transition(ctx, log, attempt, state)
		if res != nil {
			res.State = attempt.State
		}
		return res, apiErr
	}

	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, attempt *Attempt, req Request) (*Result, error) {
	if err := o.validate(req); err != nil {
		return nil, err
	}

	total := req.Cart.Total()
	amount := cart.AmountCents(total)

	o.transition(ctx, log, attempt, StateCreatingIntent)
	intent, err := o.backend.CreatePaymentIntent(ctx, amount)
	if err != nil {
		log.Info("create payment intent failed", zap.Int64("amount", amount), zap.Error(err))
		return nil, err
	}
	if intent.ID == "" {
		id, err := payment.IntentID(intent.ClientSecret)
		if err != nil {
			log.Error("payment intent has no usable id", zap.Int64("amount", amount), zap.Error(err))
			return nil, &api.Error{Kind: api.KindServer, Message: intentUnusableMessage, Err: err}
		}
		intent.ID = id
	}
	attempt.PaymentIntentID = intent.ID

	o.transition(ctx, log, attempt, StateCreatingOrder)
	order, err := o.backend.CreateOrder(ctx, o.orderRequest(req, total, intent.ID))
	if err != nil {
		log.Info("create order failed", zap.String("payment_intent", intent.ID), zap.Error(err))
		return nil, err
	}
	attempt.OrderID = order.ID

	o.transition(ctx, log, attempt, StateConfirmingPayment)
	if _, err := o.processor.Confirm(ctx, intent.ClientSecret, req.Card); err != nil {
		log.Info("payment confirmation failed", zap.Int64("order", order.ID), zap.Error(err))
		return nil, err
	}

	res := &Result{
		AttemptID:          attempt.ID,
		OrderID:            order.ID,
		PaymentIntentID:    intent.ID,
		ProcessorConfirmed: true,
		OrderStatus:        model.OrderStatusPending,
	}

	req.Cart.Clear()
	o.transition(ctx, log, attempt, StatePolling)

	out := o.poller.Poll(ctx, intent.ID)
	res.Poll = out
	res.OrderStatus = out.Status

	switch {
	case out.Confirmed:
		o.transition(ctx, log, attempt, StateConfirmed)
		res.State = StateConfirmed
		return res, nil
	case out.TimedOut:
		res.State = StateFailed
		return res, api.Errorf(api.KindTimeout, "%s", out.Message)
	case out.Canceled:
		// Провайдер списал средства: попытка остаётся в polling до сверки.
		res.State = StatePolling
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// Опрос отменён более новым оформлением.
		return res, api.Errorf(api.KindTimeout, "%s", out.Message)
	default:
		res.State = StateFailed
		return res, api.Errorf(api.KindPayment, "%s", out.Message)
	}
}

func (o *Orchestrator) validate(req Request) error {
	if req.Cart.Empty() {
		return api.Errorf(api.KindValidation, "Your cart is empty.")
	}
	if err := validation.Address(req.Address); err != nil {
		return &api.Error{Kind: api.KindValidation, Message: err.Error(), Err: err}
	}
	if o.identity != nil && o.identity.Authenticated() {
		return nil
	}
	if req.Guest == nil {
		return api.Errorf(api.KindValidation, "Please enter your name and email.")
	}
	if err := validation.GuestContact(*req.Guest); err != nil {
		return &api.Error{Kind: api.KindValidation, Message: err.Error(), Err: err}
	}
	return nil
}

func (o *Orchestrator) orderRequest(req Request, total float64, intentID string) storefront.CreateOrderRequest {
	items := req.Cart.Items()
	lines := make([]storefront.OrderLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, storefront.OrderLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.UnitPrice,
		})
	}

	addr := req.Address
	orderReq := storefront.CreateOrderRequest{
		Items:                 lines,
		Total:                 total,
		StripePaymentIntentID: intentID,
		Status:                model.OrderStatusPending,
		ShippingAddress:       &addr,
	}
	if (o.identity == nil || !o.identity.Authenticated()) && req.Guest != nil {
		orderReq.GuestName = req.Guest.Name
		orderReq.GuestEmail = req.Guest.Email
	}
	return orderReq
}

func (o *Orchestrator) transition(ctx context.Context, log *zap.Logger, attempt *Attempt, state State) {
	attempt.State = state
	attempt.UpdatedAt = time.Now()
	if err := o.attempts.Update(context.WithoutCancel(ctx), *attempt); err != nil {
		log.Error("failed to persist checkout attempt", zap.String("state", string(state)), zap.Error(err))
	}
	log.Debug("checkout state changed", zap.String("state", string(state)))
	o.observer(*attempt)
}

func toAPIError(err error) *api.Error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var payErr *payment.Error
	if errors.As(err, &payErr) {
		return &api.Error{Kind: api.KindPayment, Message: payErr.Message, Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &api.Error{Kind: api.KindTimeout, Message: "Checkout was interrupted.", Err: err}
	}
	return api.Network(err)
}
