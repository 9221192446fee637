package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fjod/go_cellar/internal/domain"
	"github.com/fjod/go_cellar/internal/storefront"
)

var promoCode string

// cartCmd shows the cart; subcommands change it.
var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(ctx context.Context, app *storefront.App) error {
			return nil
		})
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add <product-id> [quantity]",
	Short: "Add a product to the cart",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, err := parseID(args[0])
		if err != nil {
			return err
		}
		quantity := 1
		if len(args) == 2 {
			if quantity, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("%w: quantity %q", domain.ErrValidation, args[1])
			}
		}
		return withCart(cmd, func(ctx context.Context, app *storefront.App) error {
			return app.Cart.AddToCart(ctx, domain.Product{ID: productID}, quantity)
		})
	},
}

var cartUpdateCmd = &cobra.Command{
	Use:   "update <product-id> <quantity>",
	Short: "Set the quantity of a cart line (0 removes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, err := parseID(args[0])
		if err != nil {
			return err
		}
		quantity, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: quantity %q", domain.ErrValidation, args[1])
		}
		return withCart(cmd, func(ctx context.Context, app *storefront.App) error {
			return app.Cart.UpdateQuantity(ctx, productID, quantity)
		})
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:   "remove <product-id>",
	Short: "Remove a product from the cart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withCart(cmd, func(ctx context.Context, app *storefront.App) error {
			return app.Cart.RemoveFromCart(ctx, productID)
		})
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCart(cmd, func(ctx context.Context, app *storefront.App) error {
			return app.Cart.ClearCart(ctx)
		})
	},
}

func init() {
	cartCmd.PersistentFlags().StringVar(&promoCode, "promo", "", "Promo code to apply to the totals")

	cartCmd.AddCommand(cartAddCmd)
	cartCmd.AddCommand(cartUpdateCmd)
	cartCmd.AddCommand(cartRemoveCmd)
	cartCmd.AddCommand(cartClearCmd)
}

// withCart resumes the session, runs fn against the cart and prints the
// resulting summary.
func withCart(cmd *cobra.Command, fn func(context.Context, *storefront.App) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	app, release := newApp()
	defer release()

	if err := resume(ctx, app, "/cart"); err != nil {
		return err
	}
	if err := fn(ctx, app); err != nil {
		return err
	}
	if promoCode != "" {
		if err := app.Cart.ApplyPromo(promoCode); err != nil {
			return err
		}
	}
	printSummary(cmd.OutOrStdout(), app.Cart.Summary(), app.Cart.Promo())
	return nil
}

func printSummary(w io.Writer, s domain.Summary, promo string) {
	if len(s.Items) == 0 {
		fmt.Fprintln(w, "cart is empty")
		return
	}
	for _, item := range s.Items {
		fmt.Fprintf(w, "%6d  %-32s x%-3d %12.2f\n",
			item.ProductID, item.Product.Name, item.Quantity, item.Product.SalePrice*float64(item.Quantity))
	}
	fmt.Fprintf(w, "%-45s %12.2f\n", "subtotal", s.Subtotal)
	fmt.Fprintf(w, "%-45s %12.2f\n", "tax", s.Tax)
	if promo != "" {
		fmt.Fprintf(w, "%-45s %12.2f\n", "discount ("+promo+")", -s.Discount)
	}
	fmt.Fprintf(w, "%-45s %12.2f\n", "total", s.Total)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: product id %q", domain.ErrValidation, raw)
	}
	return id, nil
}
