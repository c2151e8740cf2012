package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/storefront-checkout/internal/api"
	"github.com/mmeshcher/storefront-checkout/internal/model"
	"github.com/mmeshcher/storefront-checkout/internal/storefront"
)

var (
	adminCreds   credentials
	productInput struct {
		title string
		price float64
		stock int
	}
)

// storefront products
var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := newClients().storefront.Products(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tPRICE\tSTOCK")
		for _, p := range products {
			stock := "-"
			if p.Stock != nil {
				stock = strconv.Itoa(*p.Stock)
			}
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", p.ID, p.Title, p.Price, stock)
		}
		return w.Flush()
	},
}

// storefront products save [id]
var productSaveCmd = &cobra.Command{
	Use:   "save [id]",
	Short: "Create a product, or replace it when an id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := newClients()
		if err := cl.signIn(cmd.Context(), adminCreds, true); err != nil {
			return err
		}

		p := model.Product{Title: productInput.title, Price: productInput.price}
		if len(args) == 1 {
			p.ID = args[0]
		}
		if cmd.Flags().Changed("stock") {
			stock := productInput.stock
			p.Stock = &stock
		}

		saved, err := cl.storefront.SaveProduct(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved product %s (%s)\n", saved.ID, saved.Title)
		return nil
	},
}

// storefront products delete <id>
var productDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := newClients()
		if err := cl.signIn(cmd.Context(), adminCreds, true); err != nil {
			return err
		}
		return cl.storefront.DeleteProduct(cmd.Context(), args[0])
	},
}

// storefront products images <id> [file...]
var productImagesCmd = &cobra.Command{
	Use:   "images <id> [file...]",
	Short: "List product images, or upload the given files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cl := newClients()
		id, paths := args[0], args[1:]

		if len(paths) > 0 {
			if err := cl.signIn(cmd.Context(), adminCreds, true); err != nil {
				return err
			}
			files := make([]api.File, 0, len(paths))
			for _, p := range paths {
				content, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("read image: %w", err)
				}
				files = append(files, api.File{Name: filepath.Base(p), Content: content})
			}
			if err := cl.storefront.UploadProductImages(cmd.Context(), id, files); err != nil {
				return err
			}
		}

		images, err := cl.storefront.ProductImages(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(storefront.PreferredImageURLs(images), "\n"))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{productSaveCmd, productDeleteCmd, productImagesCmd} {
		adminCreds.register(c.Flags())
		productsCmd.AddCommand(c)
	}

	productSaveCmd.Flags().StringVar(&productInput.title, "title", "", "product title")
	productSaveCmd.Flags().Float64Var(&productInput.price, "price", 0, "unit price")
	productSaveCmd.Flags().IntVar(&productInput.stock, "stock", 0, "units in stock")
}
