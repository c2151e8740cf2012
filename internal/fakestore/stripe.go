package fakestore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type stripeError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeStripeError(w http.ResponseWriter, status int, e stripeError) {
	writeJSON(w, status, map[string]stripeError{"error": e})
}

// ConfirmPaymentIntent эмулирует POST /v1/payment_intents/{id}/confirm
// платёжного провайдера. Подтверждение разрешено публикуемым ключом при
// наличии client_secret. После успеха связанный заказ переводится в
// оплаченный статус, как это сделал бы вебхук.
func (h *Handler) ConfirmPaymentIntent(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeStripeError(w, http.StatusUnauthorized, stripeError{
			Type:    "invalid_request_error",
			Message: "You did not provide an API key.",
		})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeStripeError(w, http.StatusBadRequest, stripeError{Type: "invalid_request_error", Message: "Invalid request body."})
		return
	}

	id := chi.URLParam(r, "id")
	in, declined, err := h.store.confirmIntent(id, r.PostForm.Get("client_secret"), r.PostForm.Get("payment_method"))
	if err != nil {
		if errors.Is(err, errIntentNotFound) {
			writeStripeError(w, http.StatusNotFound, stripeError{
				Type:    "invalid_request_error",
				Code:    "resource_missing",
				Message: "No such payment_intent: '" + id + "'",
			})
			return
		}
		h.logger.Error("confirm payment intent error", zap.Error(err))
		writeStripeError(w, http.StatusInternalServerError, stripeError{Type: "api_error", Message: "Internal error."})
		return
	}

	if declined {
		h.logger.Info("payment declined", zap.String("payment_intent", id))
		writeStripeError(w, http.StatusPaymentRequired, stripeError{
			Type:    "card_error",
			Code:    "card_declined",
			Message: "Your card was declined.",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     in.ID,
		"object": "payment_intent",
		"amount": in.Amount,
		"status": in.Status,
	})
}
