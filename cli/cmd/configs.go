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

func newConfigsCmd(s *settings) *cobra.Command {
	var merchantID string
	cmd := &cobra.Command{
		Use:     "configs",
		Aliases: []string{"pgc"},
		Short:   "Inspect and reconcile payment gateway configs",
	}
	cmd.PersistentFlags().StringVar(&merchantID, "merchant", "", "merchant id (required)")
	_ = cmd.MarkPersistentFlagRequired("merchant")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List a merchant's gateway configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			cfgs, err := c.ListPGConfigs(cmd.Context(), merchantID)
			if err != nil {
				return err
			}
			return s.render(cmd.OutOrStdout(), cfgs, func(w io.Writer) { printConfigs(w, cfgs...) })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <config-id>",
		Short: "Show one gateway config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigAction(cmd, s, func(ctx context.Context, c *client.Client) (*models.PGConfig, error) {
				return c.GetPGConfig(ctx, merchantID, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "retry <config-id>",
		Short: "Verify a verifying or invalid config with its gateway again (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigAction(cmd, s, func(ctx context.Context, c *client.Client) (*models.PGConfig, error) {
				return c.RetryPGConfig(ctx, merchantID, args[0])
			})
		},
	})

	var yes bool
	cancelCmd := &cobra.Command{
		Use:   "cancel <config-id>",
		Short: "Mark a pending or verifying config invalid (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !promptConfirm(cmd, fmt.Sprintf("Mark gateway config %s invalid?", args[0]), yes) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
				return nil
			}
			return runConfigAction(cmd, s, func(ctx context.Context, c *client.Client) (*models.PGConfig, error) {
				return c.CancelPGConfig(ctx, merchantID, args[0])
			})
		},
	}
	cancelCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.AddCommand(cancelCmd)

	return cmd
}

func runConfigAction(cmd *cobra.Command, s *settings, fn func(context.Context, *client.Client) (*models.PGConfig, error)) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	cfg, err := fn(cmd.Context(), c)
	if err != nil {
		return err
	}
	return s.render(cmd.OutOrStdout(), cfg, func(w io.Writer) { printConfigs(w, *cfg) })
}

func printConfigs(out io.Writer, cfgs ...models.PGConfig) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tSTATE\tUPDATED")
	for _, c := range cfgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.ProviderID, c.State, c.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
