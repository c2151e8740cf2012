package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-checkout/internal/cart"
	"github.com/mmeshcher/storefront-checkout/internal/checkout"
	"github.com/mmeshcher/storefront-checkout/internal/model"
	"github.com/mmeshcher/storefront-checkout/internal/payment"
	"github.com/mmeshcher/storefront-checkout/internal/poller"
	"github.com/mmeshcher/storefront-checkout/internal/repository"
)

var checkoutFlags struct {
	cartPath      string
	address       model.ShippingAddress
	guest         model.GuestContact
	paymentMethod string
	creds         credentials
}

// cartFile описывает формат файла корзины.
type cartFile struct {
	ID    string      `json:"id"`
	Items []cart.Item `json:"items"`
}

func loadCart(path string) (*cart.Cart, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}

	var f cartFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", path, err)
	}
	if f.ID == "" {
		f.ID = filepath.Base(path)
	}

	c := cart.New(f.ID)
	for _, it := range f.Items {
		c.Add(it)
	}
	return c, nil
}

// saveCart перезаписывает файл корзины текущим содержимым c.
func saveCart(path string, c *cart.Cart) error {
	raw, err := json.MarshalIndent(cartFile{ID: c.ID(), Items: c.Items()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write cart: %w", err)
	}
	return nil
}

// storefront checkout
var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Place an order for the items in a cart file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.StripePublishableKey == "" {
			return errors.New("stripe publishable key is required (--stripe-key or STRIPE_PUBLISHABLE_KEY)")
		}

		c, err := loadCart(checkoutFlags.cartPath)
		if err != nil {
			return err
		}

		cl := newClients()
		if err := cl.signIn(ctx, checkoutFlags.creds, false); err != nil {
			return err
		}

		opts := []checkout.Option{
			checkout.WithLogger(logger.Named("checkout")),
			checkout.WithObserver(func(a checkout.Attempt) {
				fmt.Fprintf(cmd.ErrOrStderr(), "checkout: %s\n", a.State)
			}),
		}
		if cfg.DatabaseURI != "" {
			repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
			if err != nil {
				return fmt.Errorf("database initialization error: %w", err)
			}
			defer repo.Close()
			opts = append(opts, checkout.WithAttemptStore(repo))
		}

		processor := payment.NewStripeProcessor(cfg.StripePublishableKey, logger.Named("payment"),
			payment.WithAPIURL(cfg.StripeAPIURL))
		statusPoller := poller.New(cl.storefront,
			poller.WithInterval(cfg.PollInterval),
			poller.WithMaxAttempts(cfg.PollAttempts),
			poller.WithLogger(logger.Named("poller")),
		)
		orchestrator := checkout.NewOrchestrator(cl.storefront, processor, statusPoller, cl.session, opts...)

		req := checkout.Request{
			Cart:    c,
			Address: checkoutFlags.address,
			Card:    payment.Card{PaymentMethod: checkoutFlags.paymentMethod},
		}
		if !cl.session.Authenticated() {
			guest := checkoutFlags.guest
			req.Guest = &guest
		}

		res, err := orchestrator.Submit(ctx, req)
		if res != nil && res.ProcessorConfirmed {
			// Средства списаны: повторный запуск с тем же файлом не должен
			// создать второй заказ.
			if saveErr := saveCart(checkoutFlags.cartPath, c); saveErr != nil {
				logger.Error("failed to empty cart file", zap.String("path", checkoutFlags.cartPath), zap.Error(saveErr))
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: payment was taken but %s could not be emptied; do not resubmit it\n", checkoutFlags.cartPath)
			}
		}
		if res != nil {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Order #%d (payment %s)\n", res.OrderID, res.PaymentIntentID)
			switch {
			case res.OrderConfirmed():
				fmt.Fprintf(out, "Payment confirmed, order status: %s\n", res.OrderStatus)
			case res.ProcessorConfirmed:
				fmt.Fprintln(out, "Payment accepted by the processor, the order is not confirmed yet.")
			}
		}
		return err
	},
}

func init() {
	f := checkoutCmd.Flags()
	f.StringVar(&checkoutFlags.cartPath, "cart", "", "path to a cart JSON file")
	f.StringVar(&checkoutFlags.address.Line1, "line1", "", "shipping address line 1")
	f.StringVar(&checkoutFlags.address.Line2, "line2", "", "shipping address line 2")
	f.StringVar(&checkoutFlags.address.City, "city", "", "shipping city")
	f.StringVar(&checkoutFlags.address.State, "state", "", "shipping state or region")
	f.StringVar(&checkoutFlags.address.PostalCode, "postal-code", "", "shipping postal code")
	f.StringVar(&checkoutFlags.address.Country, "country", "", "shipping country")
	f.StringVar(&checkoutFlags.guest.Name, "guest-name", "", "buyer name for guest checkout")
	f.StringVar(&checkoutFlags.guest.Email, "guest-email", "", "buyer email for guest checkout")
	f.StringVar(&checkoutFlags.paymentMethod, "payment-method", "", "Stripe payment method id, e.g. pm_card_visa")
	checkoutFlags.creds.register(f)

	_ = checkoutCmd.MarkFlagRequired("cart")
	_ = checkoutCmd.MarkFlagRequired("payment-method")
}
