// Package model содержит доменные сущности клиента оформления заказов.
package model

import "time"

// User описывает аутентифицированного пользователя витрины.
type User struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// OrderStatus описывает статус заказа на стороне сервера.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// IsConfirmed сообщает, что оплата заказа подтверждена сервером.
func (s OrderStatus) IsConfirmed() bool {
	switch s {
	case OrderStatusPaid, OrderStatusConfirmed, OrderStatusShipped:
		return true
	}
	return false
}

// IsFailed сообщает, что заказ окончательно не будет оплачен.
func (s OrderStatus) IsFailed() bool {
	switch s {
	case OrderStatusFailed, OrderStatusCancelled, OrderStatusRefunded:
		return true
	}
	return false
}

// ShippingAddress содержит адрес доставки заказа.
type ShippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// GuestContact содержит контактные данные покупателя без учётной записи.
type GuestContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PaymentIntent описывает попытку списания у платёжного провайдера.
type PaymentIntent struct {
	ID           string `json:"paymentIntentId"`
	ClientSecret string `json:"clientSecret"`
}

// OrderItem описывает позицию заказа.
type OrderItem struct {
	ID        int64         `json:"id,omitempty"`
	ProductID string        `json:"productId"`
	Quantity  int           `json:"quantity"`
	Price     float64       `json:"price"`
	Product   *OrderProduct `json:"product,omitempty"`
}

// OrderProduct содержит краткие сведения о товаре в позиции заказа.
type OrderProduct struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	ImageURLs []string `json:"imageUrls,omitempty"`
}

// Order описывает заказ, созданный на стороне сервера.
type Order struct {
	ID                    int64            `json:"id"`
	UserID                *int64           `json:"userId,omitempty"`
	Items                 []OrderItem      `json:"items"`
	Total                 float64          `json:"total"`
	StripePaymentIntentID string           `json:"stripePaymentIntentId"`
	Status                OrderStatus      `json:"status"`
	CreatedAt             time.Time        `json:"createdAt"`
	ShippingAddress       *ShippingAddress `json:"shippingAddress,omitempty"`
	GuestName             string           `json:"guestName,omitempty"`
	GuestEmail            string           `json:"guestEmail,omitempty"`
}

// Product описывает товар каталога.
type Product struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	Type        string   `json:"type,omitempty"`
	Stock       *int     `json:"stock,omitempty"`
	IsActive    *bool    `json:"isActive,omitempty"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
}

// ProductImage описывает один вариант изображения товара.
type ProductImage struct {
	URL       string `json:"url"`
	Variant   string `json:"variant,omitempty"`
	SortOrder int    `json:"sortOrder,omitempty"`
}
