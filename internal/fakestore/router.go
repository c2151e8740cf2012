package fakestore

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/storefront-checkout/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware тестового бэкенда.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(h.countCalls)

	r.Post("/v1/payment_intents/{id}/confirm", h.ConfirmPaymentIntent)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.sessions.Middleware)
		r.Use(h.csrf.Middleware)

		r.Get("/security/csrf-token", h.CSRFToken)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
		})

		r.Post("/payments/create-intent", h.CreatePaymentIntent)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/status", h.OrderStatus)
			r.Get("/user/me", h.MyOrders)
			r.Get("/{id}", h.Order)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.Products)

			r.Group(func(r chi.Router) {
				r.Use(h.requireAdmin)

				r.Post("/", h.CreateProduct)
				r.Put("/{id}", h.UpdateProduct)
				r.Delete("/{id}", h.DeleteProduct)
			})
		})

		r.Route("/product-images/{id}", func(r chi.Router) {
			r.Get("/", h.ProductImages)
			r.With(h.requireAdmin).Post("/", h.UploadProductImages)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})

	return r
}

func (h *Handler) countCalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.store.countCall(r.Method + " " + r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
