package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-checkout/internal/model"
)

var (
	loginCreds    credentials
	registerCreds credentials
	registerName  string
	ordersCreds   credentials
	orderCreds    credentials
)

// storefront login
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check account credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := newClients()
		if err := cl.signIn(cmd.Context(), loginCreds, true); err != nil {
			return err
		}
		printUser(cmd, cl.session.User())
		return nil
	},
}

// storefront register
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !registerCreds.given() {
			return errCredentialsRequired
		}

		cl := newClients()
		cl.session.Restore(cmd.Context())
		u, err := cl.session.Register(cmd.Context(), registerCreds.email, registerCreds.password, registerName)
		if err != nil {
			return err
		}
		printUser(cmd, u)
		return nil
	},
}

func printUser(cmd *cobra.Command, u *model.User) {
	if u == nil {
		return
	}
	role := "customer"
	if u.IsAdmin {
		role = "admin"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s> (%s)\n", u.Name, u.Email, role)
}

// storefront orders
var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders of the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := newClients()
		if err := cl.signIn(cmd.Context(), ordersCreds, true); err != nil {
			return err
		}

		orders, err := cl.storefront.MyOrders(cmd.Context())
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No orders yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTOTAL\tITEMS\tCREATED")
		for _, o := range orders {
			fmt.Fprintf(w, "%d\t%s\t%.2f\t%d\t%s\n", o.ID, o.Status, o.Total, len(o.Items), o.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

// storefront order <id>
var orderCmd = &cobra.Command{
	Use:   "order <id>",
	Short: "Show one order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid order id %q", args[0])
		}

		cl := newClients()
		if err := cl.signIn(cmd.Context(), orderCreds, false); err != nil {
			return err
		}

		o, err := cl.storefront.Order(cmd.Context(), id)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Order #%d: %s, total %.2f\n", o.ID, o.Status, o.Total)
		if a := o.ShippingAddress; a != nil {
			fmt.Fprintf(out, "Ship to: %s, %s, %s %s, %s\n", a.Line1, a.City, a.State, a.PostalCode, a.Country)
		}
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PRODUCT\tQTY\tPRICE")
		for _, it := range o.Items {
			title := it.ProductID
			if it.Product != nil && it.Product.Title != "" {
				title = it.Product.Title
			}
			fmt.Fprintf(w, "%s\t%d\t%.2f\n", title, it.Quantity, it.Price)
		}
		return w.Flush()
	},
}

func init() {
	loginCreds.register(loginCmd.Flags())
	registerCreds.register(registerCmd.Flags())
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name")
	ordersCreds.register(ordersCmd.Flags())
	orderCreds.register(orderCmd.Flags())
}
