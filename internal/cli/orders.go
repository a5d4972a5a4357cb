package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Additional-Code/umkm/internal/app"
	"github.com/Additional-Code/umkm/internal/entity"
	"github.com/Additional-Code/umkm/internal/repository/catalog"
	serviceorder "github.com/Additional-Code/umkm/internal/service/order"
)

func newOrdersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and operate on orders",
	}
	cmd.PersistentFlags().String("actor", "cli-admin", "User id recorded as the acting admin")

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print an order and the statuses it may move to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := adminActor(cmd)
			if err != nil {
				return err
			}
			var products *catalog.Repository
			return withOrders(cmd.Context(), func(ctx context.Context, svc *serviceorder.Service) error {
				order, err := svc.Get(ctx, args[0], actor)
				if err != nil {
					return err
				}
				printOrder(cmd.OutOrStdout(), order, func(productID string) string {
					return stockLabel(ctx, products, productID)
				})
				return nil
			}, fx.Populate(&products))
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel an order as admin and return its stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := adminActor(cmd)
			if err != nil {
				return err
			}
			return withOrders(cmd.Context(), func(ctx context.Context, svc *serviceorder.Service) error {
				order, err := svc.Transition(ctx, serviceorder.TransitionInput{
					OrderID: args[0],
					Target:  entity.OrderCancelled,
					Actor:   actor,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "order %s cancelled\n", order.OrderNumber)
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd, cancelCmd)
	return cmd
}

func adminActor(cmd *cobra.Command) (entity.Actor, error) {
	id, _ := cmd.Flags().GetString("actor")
	if id == "" {
		return entity.Actor{}, errors.New("--actor must not be empty")
	}
	return entity.Actor{UserID: id, Role: entity.ActorAdmin}, nil
}

func withOrders(ctx context.Context, fn func(context.Context, *serviceorder.Service) error, extra ...fx.Option) error {
	var svc *serviceorder.Service
	opts := fx.Options(app.Core, fx.Populate(&svc), fx.Options(extra...))
	return runWithApp(ctx, opts, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

// stockLabel reports the current stock of a line's product.
func stockLabel(ctx context.Context, products *catalog.Repository, productID string) string {
	p, err := products.Product(ctx, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return "removed"
	}
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("stock %d", p.Stock)
}

func printOrder(out io.Writer, order *entity.Order, stock func(productID string) string) {
	fmt.Fprintf(out, "%s  %s  total %s\n", order.OrderNumber, order.Status, order.TotalPrice.StringFixed(2))
	for _, line := range order.Lines {
		fmt.Fprintf(out, "  %-32s x%-4d %s  (%s)\n", line.ProductName, line.Quantity, line.Subtotal.StringFixed(2), stock(line.ProductID))
	}
	next := serviceorder.NextStatuses(order.Status, entity.ActorAdmin)
	if len(next) == 0 {
		fmt.Fprintln(out, "  terminal for admin")
		return
	}
	fmt.Fprintf(out, "  admin may move to: %v\n", next)
}
