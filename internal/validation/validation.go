// Package validation содержит функции валидации входных данных.
package validation

import (
	"net/mail"
	"strings"

	"github.com/mmeshcher/storefront-checkout/internal/model"
)

// Error перечисляет незаполненные или некорректные поля формы.
type Error struct {
	Fields []string
}

func (e *Error) Error() string {
	return "Please fill in: " + strings.Join(e.Fields, ", ")
}

// Address проверяет, что обязательные поля адреса доставки заполнены.
// Line2 необязателен.
func Address(a model.ShippingAddress) error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"country", a.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return &Error{Fields: missing}
	}
	return nil
}

// GuestContact проверяет имя и адрес электронной почты покупателя без учётной записи.
func GuestContact(c model.GuestContact) error {
	var bad []string
	if strings.TrimSpace(c.Name) == "" {
		bad = append(bad, "name")
	}
	if !IsValidEmail(c.Email) {
		bad = append(bad, "email")
	}

	if len(bad) > 0 {
		return &Error{Fields: bad}
	}
	return nil
}

// IsValidEmail проверяет, что строка содержит одиночный адрес без отображаемого имени.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	_, domain, ok := strings.Cut(addr.Address, "@")
	return ok && strings.Contains(domain, ".")
}
