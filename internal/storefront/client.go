// Package storefront предоставляет типизированные вызовы API бэкенда витрины.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/mmeshcher/storefront-checkout/internal/api"
	"github.com/mmeshcher/storefront-checkout/internal/model"
)

// ErrNotFound возвращается, когда бэкенд ответил 404.
var ErrNotFound = errors.New("not found")

// Client инкапсулирует HTTP-взаимодействие с бэкендом витрины.
type Client struct {
	api *api.Client
}

// NewClient создаёт клиент поверх API-клиента с CSRF-поддержкой.
func NewClient(c *api.Client) *Client {
	return &Client{api: c}
}

// Credentials описывает тело запросов входа и регистрации.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Me возвращает текущего пользователя. 401/403 возвращаются как *api.Error вида KindAuth.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	resp, err := c.api.Request(ctx, "/api/auth/me", api.Options{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, api.FromResponse(resp, "Session check failed")
	}

	var u model.User
	if err := api.DecodeJSON(resp, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login отправляет учётные данные. При успехе бэкенд выставляет cookie сессии.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.postCredentials(ctx, "/api/auth/login", Credentials{Email: email, Password: password}, "Login failed")
}

// Register создаёт учётную запись и открывает сессию.
func (c *Client) Register(ctx context.Context, email, password, name string) error {
	return c.postCredentials(ctx, "/api/auth/register", Credentials{Email: email, Password: password, Name: name}, "Registration failed")
}

func (c *Client) postCredentials(ctx context.Context, path string, creds Credentials, fallback string) error {
	resp, err := c.api.Request(ctx, path, api.Options{Method: http.MethodPost, JSON: creds})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := api.FromResponse(resp, fallback)
		if apiErr.Kind != api.KindCSRF && apiErr.Kind != api.KindServer {
			apiErr.Kind = api.KindAuth
		}
		return apiErr
	}
	api.Discard(resp)
	return nil
}

// Logout завершает сессию на сервере.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.api.Request(ctx, "/api/auth/logout", api.Options{Method: http.MethodPost})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return api.FromResponse(resp, "Logout failed")
	}
	api.Discard(resp)
	return nil
}

type createIntentRequest struct {
	Amount int64 `json:"amount"`
}

// CreatePaymentIntent создаёт намерение оплаты на сумму amountCents.
func (c *Client) CreatePaymentIntent(ctx context.Context, amountCents int64) (*model.PaymentIntent, error) {
	resp, err := c.api.Request(ctx, "/api/payments/create-intent", api.Options{
		Method: http.MethodPost,
		JSON:   createIntentRequest{Amount: amountCents},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, api.FromResponse(resp, "Failed to create payment intent")
	}

	var intent model.PaymentIntent
	if err := api.DecodeJSON(resp, &intent); err != nil {
		return nil, err
	}
	if intent.ClientSecret == "" {
		return nil, api.Errorf(api.KindServer, "Payment intent response has no client secret")
	}
	return &intent, nil
}

// CreateOrderRequest описывает тело запроса создания заказа.
type CreateOrderRequest struct {
	Items                 []OrderLine            `json:"items"`
	Total                 float64                `json:"total"`
	StripePaymentIntentID string                 `json:"stripePaymentIntentId"`
	Status                model.OrderStatus      `json:"status"`
	ShippingAddress       *model.ShippingAddress `json:"shippingAddress,omitempty"`
	GuestName             string                 `json:"guestName,omitempty"`
	GuestEmail            string                 `json:"guestEmail,omitempty"`
}

// OrderLine описывает позицию в запросе создания заказа.
type OrderLine struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// CreateOrder создаёт заказ. Неуспешный ответ (например, нехватка товара)
// возвращается как *api.Error с сообщением сервера.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	resp, err := c.api.Request(ctx, "/api/orders", api.Options{Method: http.MethodPost, JSON: req})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, api.FromResponse(resp, "Failed to create order")
	}

	var order model.Order
	if err := api.DecodeJSON(resp, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderStatus возвращает статус заказа по идентификатору намерения оплаты.
// Если заказ ещё не виден серверу, возвращается ErrNotFound.
func (c *Client) OrderStatus(ctx context.Context, paymentIntentID string) (model.OrderStatus, error) {
	resp, err := c.api.Request(ctx, "/api/orders/status", api.Options{
		Query: url.Values{"paymentIntentId": {paymentIntentID}},
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		api.Discard(resp)
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", api.FromResponse(resp, "Failed to fetch order status")
	}

	var body struct {
		Status model.OrderStatus `json:"status"`
	}
	if err := api.DecodeJSON(resp, &body); err != nil {
		return "", err
	}
	return model.OrderStatus(strings.ToLower(string(body.Status))), nil
}

// MyOrders возвращает историю заказов текущего пользователя.
func (c *Client) MyOrders(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	if err := c.getJSON(ctx, "/api/orders/user/me", "Failed to fetch orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Order возвращает заказ по идентификатору.
func (c *Client) Order(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	if err := c.getJSON(ctx, fmt.Sprintf("/api/orders/%d", id), "Failed to fetch order", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Products возвращает каталог товаров.
func (c *Client) Products(ctx context.Context) ([]model.Product, error) {
	var products []model.Product
	if err := c.getJSON(ctx, "/api/products", "Failed to fetch products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

// SaveProduct создаёт товар (пустой ID) или обновляет существующий.
func (c *Client) SaveProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	method, path := http.MethodPost, "/api/products"
	if p.ID != "" {
		method, path = http.MethodPut, "/api/products/"+url.PathEscape(p.ID)
	}

	resp, err := c.api.Request(ctx, path, api.Options{Method: method, JSON: p})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, api.FromResponse(resp, "Error saving product")
	}
	if resp.StatusCode == http.StatusNoContent {
		api.Discard(resp)
		return &p, nil
	}

	var saved model.Product
	if err := api.DecodeJSON(resp, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteProduct удаляет товар.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	resp, err := c.api.Request(ctx, "/api/products/"+url.PathEscape(id), api.Options{Method: http.MethodDelete})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return api.FromResponse(resp, "Error deleting product")
	}
	api.Discard(resp)
	return nil
}

// UploadProductImages загружает изображения товара multipart-формой с полем Files.
func (c *Client) UploadProductImages(ctx context.Context, productID string, files []api.File) error {
	form := &api.Form{}
	for _, f := range files {
		f.Field = "Files"
		form.Files = append(form.Files, f)
	}

	resp, err := c.api.Request(ctx, "/api/product-images/"+url.PathEscape(productID), api.Options{
		Method: http.MethodPost,
		Form:   form,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return api.FromResponse(resp, "Image upload failed")
	}
	api.Discard(resp)
	return nil
}

// ProductImages возвращает варианты изображений товара. Бэкенд может
// ответить как списком объектов, так и списком URL.
func (c *Client) ProductImages(ctx context.Context, productID string) ([]model.ProductImage, error) {
	var raw []any
	if err := c.getJSON(ctx, "/api/product-images/"+url.PathEscape(productID), "Failed to fetch images", &raw); err != nil {
		return nil, err
	}

	images := make([]model.ProductImage, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			images = append(images, model.ProductImage{URL: v})
		case map[string]any:
			img := model.ProductImage{}
			img.URL, _ = v["url"].(string)
			img.Variant, _ = v["variant"].(string)
			if order, ok := v["sortOrder"].(float64); ok {
				img.SortOrder = int(order)
			}
			images = append(images, img)
		}
	}
	return images, nil
}

// PreferredImageURLs выбирает URL для показа: варианты w800, иначе original,
// иначе все, в порядке sortOrder.
func PreferredImageURLs(images []model.ProductImage) []string {
	sorted := append([]model.ProductImage(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortOrder < sorted[j].SortOrder
	})

	pick := func(variant string) []model.ProductImage {
		var res []model.ProductImage
		for _, img := range sorted {
			if strings.EqualFold(img.Variant, variant) {
				res = append(res, img)
			}
		}
		return res
	}

	chosen := pick("w800")
	if len(chosen) == 0 {
		chosen = pick("original")
	}
	if len(chosen) == 0 {
		chosen = sorted
	}

	urls := make([]string, 0, len(chosen))
	for _, img := range chosen {
		urls = append(urls, img.URL)
	}
	return urls
}

func (c *Client) getJSON(ctx context.Context, path, fallback string, v any) error {
	resp, err := c.api.Request(ctx, path, api.Options{})
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		api.Discard(resp)
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return api.FromResponse(resp, fallback)
	}
	return api.DecodeJSON(resp, v)
}
