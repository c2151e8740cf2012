// Package fakestore реализует бэкенд витрины в памяти процесса: сессии,
// анти-CSRF токены, каталог, заказы и эмулятор подтверждения платежей.
// Используется в интеграционных тестах и командой storefront fakestore.
package fakestore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront-checkout/internal/model"
)

var (
	errUserExists        = errors.New("user already exists")
	errInvalidLogin      = errors.New("invalid credentials")
	errIntentNotFound    = errors.New("payment intent not found")
	errInsufficientStock = errors.New("insufficient stock")
	errProductNotFound   = errors.New("product not found")
)

// DeclinedPaymentMethod задаёт метод оплаты, который эмулятор всегда отклоняет.
const DeclinedPaymentMethod = "pm_card_chargeDeclined"

type user struct {
	model.User
	passwordHash [32]byte
}

type intent struct {
	ID     string
	Secret string
	Amount int64
	Status string
}

// Store хранит состояние тестового бэкенда.
type Store struct {
	mu sync.Mutex

	nextUserID  int64
	nextOrderID int64

	users    map[string]*user
	sessions map[string]int64
	products map[string]*model.Product
	images   map[string][]model.ProductImage
	intents  map[string]*intent
	orders   []*model.Order

	// statusLag: сколько запросов статуса для намерения ещё отвечают 404.
	statusLag     int
	statusPending map[string]int
	// confirmStatus: статус, в который переводится заказ после оплаты.
	confirmStatus model.OrderStatus

	calls map[string]int
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		users:         make(map[string]*user),
		sessions:      make(map[string]int64),
		products:      make(map[string]*model.Product),
		images:        make(map[string][]model.ProductImage),
		intents:       make(map[string]*intent),
		statusPending: make(map[string]int),
		confirmStatus: model.OrderStatusConfirmed,
		calls:         make(map[string]int),
	}
}

// AddUser регистрирует пользователя напрямую, минуя API.
func (s *Store) AddUser(email, password, name string, admin bool) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.addUserLocked(email, password, name)
	if err != nil {
		u = s.users[strings.ToLower(strings.TrimSpace(email))]
	}
	u.IsAdmin = admin
	return u.User
}

// AddProduct добавляет товар в каталог. Пустой ID заменяется сгенерированным.
func (s *Store) AddProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := p
	s.products[p.ID] = &cp
	return p
}

// SetStock задаёт остаток товара.
func (s *Store) SetStock(productID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.Stock = &n
	}
}

// SetStatusLag задаёт число ответов 404 на запрос статуса каждого нового намерения.
func (s *Store) SetStatusLag(n int) {
	s.mu.Lock()
	s.statusLag = n
	s.mu.Unlock()
}

// SetConfirmStatus задаёт статус заказа после успешной оплаты.
func (s *Store) SetConfirmStatus(status model.OrderStatus) {
	s.mu.Lock()
	s.confirmStatus = status
	s.mu.Unlock()
}

// Calls возвращает число запросов вида "METHOD /path".
func (s *Store) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// CallsWithPrefix возвращает число запросов, начинающихся с prefix.
func (s *Store) CallsWithPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for route, c := range s.calls {
		if strings.HasPrefix(route, prefix) {
			n += c
		}
	}
	return n
}

// IntentAmount возвращает сумму намерения оплаты в центах.
func (s *Store) IntentAmount(id string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[id]
	if !ok {
		return 0, false
	}
	return in.Amount, true
}

// Orders возвращает копию всех заказов.
func (s *Store) Orders() []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		res = append(res, *o)
	}
	return res
}

func (s *Store) countCall(route string) {
	s.mu.Lock()
	s.calls[route]++
	s.mu.Unlock()
}

func hashPassword(email, password string) [32]byte {
	return sha256.Sum256([]byte(strings.ToLower(email) + ":" + password))
}

func (s *Store) addUserLocked(email, password, name string) (*user, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if _, ok := s.users[key]; ok {
		return nil, errUserExists
	}

	s.nextUserID++
	u := &user{
		User:         model.User{ID: s.nextUserID, Email: key, Name: name},
		passwordHash: hashPassword(key, password),
	}
	s.users[key] = u
	return u, nil
}

func (s *Store) registerUser(email, password, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.addUserLocked(email, password, name)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

func (s *Store) authenticate(email, password string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(email))
	u, ok := s.users[key]
	if !ok || u.passwordHash != hashPassword(key, password) {
		return 0, errInvalidLogin
	}
	return u.ID, nil
}

func (s *Store) bindSession(sid string, userID int64) {
	s.mu.Lock()
	s.sessions[sid] = userID
	s.mu.Unlock()
}

func (s *Store) logout(sid string) {
	s.mu.Lock()
	delete(s.sessions, sid)
	s.mu.Unlock()
}

func (s *Store) userBySession(sid string) (*model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessions[sid]
	if !ok {
		return nil, false
	}
	for _, u := range s.users {
		if u.ID == id {
			cp := u.User
			return &cp, true
		}
	}
	return nil, false
}

func (s *Store) createIntent(amount int64) *intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	in := &intent{
		ID:     id,
		Secret: id + "_secret_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount: amount,
		Status: "requires_payment_method",
	}
	s.intents[id] = in
	s.statusPending[id] = s.statusLag
	return in
}

type orderLine struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type orderInput struct {
	Items                 []orderLine            `json:"items"`
	Total                 float64                `json:"total"`
	StripePaymentIntentID string                 `json:"stripePaymentIntentId"`
	Status                model.OrderStatus      `json:"status"`
	ShippingAddress       *model.ShippingAddress `json:"shippingAddress"`
	GuestName             string                 `json:"guestName"`
	GuestEmail            string                 `json:"guestEmail"`
}

type stockError struct {
	title string
}

func (e *stockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s", e.title)
}

func (e *stockError) Unwrap() error {
	return errInsufficientStock
}

func (s *Store) createOrder(userID *int64, in orderInput) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[in.StripePaymentIntentID]; !ok {
		return nil, errIntentNotFound
	}

	// Сначала проверяем остатки по всем позициям, затем списываем.
	for _, line := range in.Items {
		p, ok := s.products[line.ProductID]
		if !ok {
			return nil, errProductNotFound
		}
		if p.Stock != nil && *p.Stock < line.Quantity {
			return nil, &stockError{title: p.Title}
		}
	}

	items := make([]model.OrderItem, 0, len(in.Items))
	for i, line := range in.Items {
		p := s.products[line.ProductID]
		if p.Stock != nil {
			left := *p.Stock - line.Quantity
			p.Stock = &left
		}
		items = append(items, model.OrderItem{
			ID:        int64(i + 1),
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     line.Price,
			Product:   &model.OrderProduct{ID: p.ID, Title: p.Title, ImageURLs: p.ImageURLs},
		})
	}

	s.nextOrderID++
	o := &model.Order{
		ID:                    s.nextOrderID,
		UserID:                userID,
		Items:                 items,
		Total:                 in.Total,
		StripePaymentIntentID: in.StripePaymentIntentID,
		Status:                model.OrderStatusPending,
		CreatedAt:             time.Now().UTC(),
		ShippingAddress:       in.ShippingAddress,
		GuestName:             in.GuestName,
		GuestEmail:            in.GuestEmail,
	}
	s.orders = append(s.orders, o)

	cp := *o
	return &cp, nil
}

// orderStatus возвращает статус заказа по намерению; ok == false, пока
// заказ «не виден» серверу.
func (s *Store) orderStatus(intentID string) (model.OrderStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statusPending[intentID] > 0 {
		s.statusPending[intentID]--
		return "", false
	}
	for _, o := range s.orders {
		if o.StripePaymentIntentID == intentID {
			return o.Status, true
		}
	}
	return "", false
}

func (s *Store) ordersByUser(userID int64) []model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Order, 0)
	for _, o := range s.orders {
		if o.UserID != nil && *o.UserID == userID {
			res = append(res, *o)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID > res[j].ID
	})
	return res
}

func (s *Store) order(id int64) (*model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ID == id {
			cp := *o
			return &cp, true
		}
	}
	return nil, false
}

// confirmIntent эмулирует подтверждение у провайдера и последующий вебхук,
// переводящий заказ в оплаченный статус.
func (s *Store) confirmIntent(id, secret, paymentMethod string) (*intent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.intents[id]
	if !ok || in.Secret != secret {
		return nil, false, errIntentNotFound
	}
	if paymentMethod == DeclinedPaymentMethod {
		in.Status = "requires_payment_method"
		cp := *in
		return &cp, true, nil
	}

	in.Status = "succeeded"
	for _, o := range s.orders {
		if o.StripePaymentIntentID == id {
			o.Status = s.confirmStatus
		}
	}
	cp := *in
	return &cp, false, nil
}

func (s *Store) listProducts() []model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Title < res[j].Title
	})
	return res
}

func (s *Store) saveProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := p
	s.products[p.ID] = &cp
	return p
}

func (s *Store) updateProduct(p model.Product) (model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[p.ID]; !ok {
		return model.Product{}, errProductNotFound
	}
	cp := p
	s.products[p.ID] = &cp
	return p, nil
}

func (s *Store) deleteProduct(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return errProductNotFound
	}
	delete(s.products, id)
	delete(s.images, id)
	return nil
}

func (s *Store) addImages(productID string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return errProductNotFound
	}

	order := len(s.images[productID]) / 2
	for _, name := range names {
		base := "/images/" + productID + "/" + name
		s.images[productID] = append(s.images[productID],
			model.ProductImage{URL: base, Variant: "original", SortOrder: order},
			model.ProductImage{URL: base + "?w=800", Variant: "w800", SortOrder: order},
		)
		p.ImageURLs = append(p.ImageURLs, base)
		order++
	}
	return nil
}

func (s *Store) productImages(productID string) ([]model.ProductImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return nil, false
	}
	return append([]model.ProductImage{}, s.images[productID]...), true
}
