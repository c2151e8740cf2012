package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-checkout/internal/fakestore"
	"github.com/mmeshcher/storefront-checkout/internal/model"
)

var (
	fakestoreSeed      bool
	fakestoreStatusLag int
)

// storefront fakestore
var fakestoreCmd = &cobra.Command{
	Use:   "fakestore",
	Short: "Run an in-memory storefront backend with a payment emulator",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := fakestore.NewStore()
		store.SetStatusLag(fakestoreStatusLag)
		if fakestoreSeed {
			seed(store)
		}

		h := fakestore.NewHandler(store, cfg.SessionSecret, logger)
		server := &http.Server{
			Addr:    cfg.RunAddress,
			Handler: h.SetupRouter(),
		}

		g, ctx := errgroup.WithContext(cmd.Context())

		g.Go(func() error {
			logger.Info("starting fake storefront", zap.String("addr", cfg.RunAddress))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})

		// Graceful shutdown при отмене контекста (сигнал или ошибка сервера)
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown error: %w", err)
			}
			logger.Info("server stopped gracefully")
			return nil
		})

		return g.Wait()
	},
}

func seed(store *fakestore.Store) {
	store.AddUser("admin@example.com", "admin", "Admin", true)
	store.AddUser("buyer@example.com", "buyer", "Buyer", false)

	mug := store.AddProduct(model.Product{ID: "mug", Title: "Mug", Price: 49.99})
	store.SetStock(mug.ID, 10)
	store.AddProduct(model.Product{ID: "poster", Title: "Poster", Price: 12.5})
}

func init() {
	fakestoreCmd.Flags().BoolVar(&fakestoreSeed, "seed", false, "add demo users and products")
	fakestoreCmd.Flags().IntVar(&fakestoreStatusLag, "status-lag", 0, "order status requests answered with 404 before the order becomes visible")
}
