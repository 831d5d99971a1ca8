package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"billingstack/cli/internal/client"
	"billingstack/pkg/models"
)

func newMethodsCmd(s *settings) *cobra.Command {
	var customerID string
	cmd := &cobra.Command{
		Use:     "methods",
		Aliases: []string{"pm"},
		Short:   "Inspect and reconcile customer payment methods",
	}
	cmd.PersistentFlags().StringVar(&customerID, "customer", "", "customer id (required)")
	_ = cmd.MarkPersistentFlagRequired("customer")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List a customer's payment methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			pms, err := c.ListPaymentMethods(cmd.Context(), customerID)
			if err != nil {
				return err
			}
			return s.render(cmd.OutOrStdout(), pms, func(w io.Writer) { printMethods(w, pms...) })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry <method-id>",
		Short: "Register a pending payment method with its gateway again (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMethodAction(cmd, s, func(ctx context.Context, c *client.Client) (*models.PaymentMethod, error) {
				return c.RetryPaymentMethod(ctx, customerID, args[0])
			})
		},
	})

	var yes bool
	cancelCmd := &cobra.Command{
		Use:   "cancel <method-id>",
		Short: "Mark a pending payment method invalid (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !promptConfirm(cmd, fmt.Sprintf("Mark payment method %s invalid?", args[0]), yes) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
			return runMethodAction(cmd, s, func(ctx context.Context, c *client.Client) (*models.PaymentMethod, error) {
				return c.CancelPaymentMethod(ctx, customerID, args[0])
			})
		},
	}
	cancelCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.AddCommand(cancelCmd)

	return cmd
}

func runMethodAction(cmd *cobra.Command, s *settings, fn func(context.Context, *client.Client) (*models.PaymentMethod, error)) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	pm, err := fn(cmd.Context(), c)
	if err != nil {
		return err
	}
	return s.render(cmd.OutOrStdout(), pm, func(w io.Writer) { printMethods(w, *pm) })
}

func printMethods(out io.Writer, pms ...models.PaymentMethod) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIDENTIFIER\tCONFIG\tSTATE\tUPDATED")
	for _, pm := range pms {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", pm.ID, pm.Name, pm.Identifier, pm.ProviderConfigID, pm.State, pm.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
