package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/storefront-checkout/internal/model"
)

func validAddress() model.ShippingAddress {
	return model.ShippingAddress{
		Line1:      "1 Main St",
		City:       "Springfield",
		State:      "IL",
		PostalCode: "62701",
		Country:    "US",
	}
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *model.ShippingAddress)
		missing []string
	}{
		{
			name:   "complete without line2",
			mutate: func(a *model.ShippingAddress) {},
		},
		{
			name:    "blank city",
			mutate:  func(a *model.ShippingAddress) { a.City = "   " },
			missing: []string{"city"},
		},
		{
			name: "several missing",
			mutate: func(a *model.ShippingAddress) {
				a.Line1 = ""
				a.PostalCode = ""
				a.Country = ""
			},
			missing: []string{"line1", "postalCode", "country"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAddress()
			tt.mutate(&a)

			err := Address(a)
			if tt.missing == nil {
				assert.NoError(t, err)
				return
			}

			var vErr *Error
			if assert.True(t, errors.As(err, &vErr)) {
				assert.Equal(t, tt.missing, vErr.Fields)
			}
		})
	}
}

func TestGuestContact(t *testing.T) {
	tests := []struct {
		name    string
		contact model.GuestContact
		bad     []string
	}{
		{
			name:    "valid",
			contact: model.GuestContact{Name: "Ann", Email: "ann@example.com"},
		},
		{
			name:    "missing name",
			contact: model.GuestContact{Email: "ann@example.com"},
			bad:     []string{"name"},
		},
		{
			name:    "malformed email",
			contact: model.GuestContact{Name: "Ann", Email: "ann@"},
			bad:     []string{"email"},
		},
		{
			name:    "empty",
			contact: model.GuestContact{},
			bad:     []string{"name", "email"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GuestContact(tt.contact)
			if tt.bad == nil {
				assert.NoError(t, err)
				return
			}

			var vErr *Error
			if assert.True(t, errors.As(err, &vErr)) {
				assert.Equal(t, tt.bad, vErr.Fields)
			}
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{email: "a@b.co", valid: true},
		{email: "first.last+tag@shop.example.org", valid: true},
		{email: "Ann <ann@example.com>", valid: false},
		{email: "no-at-sign", valid: false},
		{email: "user@localhost", valid: false},
		{email: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := IsValidEmail(tt.email); got != tt.valid {
				t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.valid)
			}
		})
	}
}
