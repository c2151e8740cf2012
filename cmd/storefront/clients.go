package main

import (
	"context"
	"errors"

	"github.com/spf13/pflag"

	"github.com/mmeshcher/storefront-checkout/internal/api"
	"github.com/mmeshcher/storefront-checkout/internal/csrf"
	"github.com/mmeshcher/storefront-checkout/internal/session"
	"github.com/mmeshcher/storefront-checkout/internal/storefront"
)

// clients объединяет клиенты бэкенда с общими cookie и анти-CSRF токеном.
type clients struct {
	tokens     *csrf.Manager
	storefront *storefront.Client
	session    *session.Manager
}

func newClients() *clients {
	httpClient := api.NewHTTPClient()
	tokens := csrf.NewManager(cfg.APIURL, httpClient, logger.Named("csrf"))
	sf := storefront.NewClient(api.NewClient(cfg.APIURL, tokens,
		api.WithHTTPClient(httpClient),
		api.WithLogger(logger.Named("api")),
	))

	return &clients{
		tokens:     tokens,
		storefront: sf,
		session:    session.NewManager(sf, tokens, logger.Named("session")),
	}
}

type credentials struct {
	email    string
	password string
}

func (c *credentials) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.email, "email", "", "account email")
	fs.StringVar(&c.password, "password", "", "account password")
}

func (c *credentials) given() bool {
	return c.email != ""
}

var errCredentialsRequired = errors.New("--email and --password are required")

// signIn восстанавливает сессию и выполняет вход, если заданы учётные данные.
func (c *clients) signIn(ctx context.Context, creds credentials, required bool) error {
	c.session.Restore(ctx)

	if !creds.given() {
		if required {
			return errCredentialsRequired
		}
		return nil
	}
	_, err := c.session.Login(ctx, creds.email, creds.password)
	return err
}
