package fakestore

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-checkout/internal/middleware"
	"github.com/mmeshcher/storefront-checkout/internal/model"
)

// Handler реализует HTTP-обработчики тестового бэкенда.
type Handler struct {
	store    *Store
	sessions *middleware.SessionMiddleware
	csrf     *middleware.CSRFGuard
	logger   *zap.Logger
}

// NewHandler создаёт обработчики поверх store.
func NewHandler(store *Store, sessionSecret string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:    store,
		sessions: middleware.NewSessionMiddleware(sessionSecret),
		csrf:     middleware.NewCSRFGuard(),
		logger:   logger,
	}
}

// CSRF возвращает проверку анти-CSRF токенов, например чтобы отозвать токен в тесте.
func (h *Handler) CSRF() *middleware.CSRFGuard {
	return h.csrf
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (h *Handler) currentUser(r *http.Request) (*model.User, bool) {
	sid, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return h.store.userBySession(sid)
}

// CSRFToken выдаёт токен текущей сессии.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sid, _ := middleware.SessionIDFromContext(r.Context())
	token := h.csrf.Issue(sid)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func decodeCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, false
	}
	return req, strings.TrimSpace(req.Email) != "" && req.Password != ""
}

// Register создаёт пользователя и открывает для него новую сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	userID, err := h.store.registerUser(req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, errUserExists) {
			writeMessage(w, http.StatusConflict, "Email is already registered")
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	h.startSession(w, r, userID)
	w.WriteHeader(http.StatusCreated)
}

// Login проверяет учётные данные и открывает новую сессию.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	userID, err := h.store.authenticate(req.Email, req.Password)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	h.startSession(w, r, userID)
	w.WriteHeader(http.StatusOK)
}

// startSession меняет идентификатор сессии, чтобы токены анонимной сессии
// перестали действовать.
func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, userID int64) {
	if old, ok := middleware.SessionIDFromContext(r.Context()); ok {
		h.csrf.Revoke(old)
		h.store.logout(old)
	}
	sid := h.sessions.Rotate(w)
	h.store.bindSession(sid, userID)
}

// Me возвращает текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Logout закрывает сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sid, ok := middleware.SessionIDFromContext(r.Context()); ok {
		h.csrf.Revoke(sid)
		h.store.logout(sid)
	}
	h.sessions.Rotate(w)
	w.WriteHeader(http.StatusNoContent)
}

// CreatePaymentIntent создаёт намерение оплаты на сумму в центах.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		writeMessage(w, http.StatusBadRequest, "Amount must be a positive number of cents")
		return
	}

	in := h.store.createIntent(req.Amount)
	h.logger.Debug("payment intent created", zap.String("id", in.ID), zap.Int64("amount", in.Amount))
	writeJSON(w, http.StatusOK, map[string]string{
		"clientSecret":    in.Secret,
		"paymentIntentId": in.ID,
	})
}

// CreateOrder создаёт заказ в статусе pending, проверяя остатки.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in orderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid order payload")
		return
	}
	if len(in.Items) == 0 || in.StripePaymentIntentID == "" || in.ShippingAddress == nil {
		writeMessage(w, http.StatusBadRequest, "Items, payment intent and shipping address are required")
		return
	}

	var userID *int64
	if u, ok := h.currentUser(r); ok {
		userID = &u.ID
	} else if in.GuestEmail == "" || in.GuestName == "" {
		writeMessage(w, http.StatusBadRequest, "Guest name and email are required")
		return
	}

	order, err := h.store.createOrder(userID, in)
	if err != nil {
		var stockErr *stockError
		switch {
		case errors.As(err, &stockErr):
			writeMessage(w, http.StatusConflict, stockErr.Error())
		case errors.Is(err, errIntentNotFound):
			writeMessage(w, http.StatusBadRequest, "Unknown payment intent")
		case errors.Is(err, errProductNotFound):
			writeMessage(w, http.StatusBadRequest, "Unknown product")
		default:
			h.logger.Error("create order error", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// OrderStatus возвращает статус заказа по намерению оплаты или 404.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	intentID := r.URL.Query().Get("paymentIntentId")
	if intentID == "" {
		writeMessage(w, http.StatusBadRequest, "paymentIntentId is required")
		return
	}

	status, ok := h.store.orderStatus(intentID)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.OrderStatus{"status": status})
}

// MyOrders возвращает заказы текущего пользователя.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(r)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, h.store.ordersByUser(u.ID))
}

// Order возвращает заказ по идентификатору. Гостевые заказы доступны всем,
// заказы пользователя видит только владелец.
func (h *Handler) Order(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	order, ok := h.store.order(id)
	if !ok {
		writeMessage(w, http.StatusNotFound, "Order not found")
		return
	}
	if order.UserID != nil {
		u, ok := h.currentUser(r)
		if !ok || (u.ID != *order.UserID && !u.IsAdmin) {
			writeMessage(w, http.StatusNotFound, "Order not found")
			return
		}
	}
	writeJSON(w, http.StatusOK, order)
}

// Products возвращает каталог.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.listProducts())
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := h.currentUser(r)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if !u.IsAdmin {
			writeMessage(w, http.StatusForbidden, "Administrator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateProduct добавляет товар.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var p model.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || strings.TrimSpace(p.Title) == "" {
		writeMessage(w, http.StatusBadRequest, "Title is required")
		return
	}
	p.ID = ""
	writeJSON(w, http.StatusCreated, h.store.saveProduct(p))
}

// UpdateProduct заменяет товар.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var p model.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid product payload")
		return
	}
	p.ID = chi.URLParam(r, "id")

	saved, err := h.store.updateProduct(p)
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// DeleteProduct удаляет товар.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.store.deleteProduct(chi.URLParam(r, "id")); err != nil {
		writeMessage(w, http.StatusNotFound, "Product not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const maxUploadSize = 10 << 20

// UploadProductImages принимает файлы из поля Files multipart-формы.
func (h *Handler) UploadProductImages(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeMessage(w, http.StatusBadRequest, "Expected multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["Files"]
	if len(files) == 0 {
		writeMessage(w, http.StatusBadRequest, "No files uploaded")
		return
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, path.Base(f.Filename))
	}

	if err := h.store.addImages(chi.URLParam(r, "id"), names); err != nil {
		writeMessage(w, http.StatusNotFound, "Product not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ProductImages возвращает варианты изображений товара.
func (h *Handler) ProductImages(w http.ResponseWriter, r *http.Request) {
	images, ok := h.store.productImages(chi.URLParam(r, "id"))
	if !ok {
		writeMessage(w, http.StatusNotFound, "Product not found")
		return
	}
	writeJSON(w, http.StatusOK, images)
}
