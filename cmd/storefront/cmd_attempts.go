package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-checkout/internal/repository"
)

var attemptsLimit int

// storefront attempts
var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Show recent checkout attempts from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURI == "" {
			return errors.New("database URI is required (--database-uri or DATABASE_URI)")
		}

		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			return fmt.Errorf("database initialization error: %w", err)
		}
		defer repo.Close()

		attempts, err := repo.Recent(cmd.Context(), attemptsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tORDER\tPAYMENT\tUPDATED\tMESSAGE")
		for _, a := range attempts {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				a.ID, a.State, a.OrderID, a.PaymentIntentID, a.UpdatedAt.Format("2006-01-02 15:04:05"), a.Message)
		}
		return w.Flush()
	},
}

func init() {
	attemptsCmd.Flags().IntVarP(&attemptsLimit, "limit", "n", 20, "number of attempts to show")
}
