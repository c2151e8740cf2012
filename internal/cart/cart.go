// Package cart хранит корзину покупателя.
package cart

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Item описывает позицию корзины.
type Item struct {
	ProductID string  `json:"productId"`
	Title     string  `json:"title,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Cart хранит упорядоченный набор позиций с собственным идентификатором.
// Безопасна для конкурентного использования.
type Cart struct {
	id string

	mu    sync.Mutex
	items []Item
}

// New создаёт корзину с идентификатором id и позициями items.
func New(id string, items ...Item) *Cart {
	return &Cart{id: id, items: append([]Item(nil), items...)}
}

// ID возвращает идентификатор корзины.
func (c *Cart) ID() string {
	return c.id
}

// Add добавляет позицию; количество одного товара суммируется.
func (c *Cart) Add(item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.items {
		if c.items[i].ProductID == item.ProductID {
			c.items[i].Quantity += item.Quantity
			return
		}
	}
	c.items = append(c.items, item)
}

// Items возвращает копию позиций.
func (c *Cart) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

// Empty сообщает, что в корзине нет позиций.
func (c *Cart) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items) == 0
}

// Total возвращает сумму корзины, округлённую до центов.
func (c *Cart) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64
	for _, it := range c.items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return math.Round(total*100) / 100
}

// Clear удаляет все позиции.
func (c *Cart) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

// Key возвращает ключ попытки оформления: идентификатор корзины и отпечаток
// её содержимого. Изменение корзины даёт новый ключ.
func (c *Cart) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := sha256.New()
	for _, it := range c.items {
		fmt.Fprintf(h, "%s|%d|%.2f\n", it.ProductID, it.Quantity, it.UnitPrice)
	}
	return strings.TrimSpace(c.id) + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// AmountCents переводит сумму в минимальные единицы валюты с округлением.
func AmountCents(total float64) int64 {
	return int64(math.Round(total * 100))
}
