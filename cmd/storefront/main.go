// Package main запускает консольный клиент витрины: оформление заказов, учётная
// запись, каталог и тестовый бэкенд.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-checkout/internal/api"
	"github.com/mmeshcher/storefront-checkout/internal/config"
)

var (
	cfg    = config.Default()
	logger = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(1)
	}
}

// errorText возвращает сообщение для пользователя. Для ошибок API это текст
// сервера, для остальных текст самой ошибки.
func errorText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

var rootCmd = &cobra.Command{
	Use:           "storefront",
	Short:         "Storefront checkout client",
	Long:          "Command-line client for the storefront API: checkout, account, catalog and a local fake backend.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		if err := cfg.LoadEnv(); err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		l, err := newLogger(cfg.Debug)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger = l
		return nil
	},
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func init() {
	cfg.RegisterFlags(rootCmd.PersistentFlags())

	// Покупатель
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(ordersCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(productsCmd)

	// Учётная запись
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)

	// Администрирование
	rootCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(fakestoreCmd)
}
