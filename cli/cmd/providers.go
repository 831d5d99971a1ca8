package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"billingstack/pkg/models"
)

func newProvidersCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect the gateway provider catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List catalog providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			providers, err := c.ListProviders(cmd.Context())
			if err != nil {
				return err
			}
			return s.render(cmd.OutOrStdout(), providers, func(w io.Writer) { printProviders(w, providers) })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Upsert every registered provider into the catalog (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := s.client()
			if err != nil {
				return err
			}
			providers, err := c.SyncProviders(cmd.Context())
			if err != nil {
				return err
			}
			return s.render(cmd.OutOrStdout(), providers, func(w io.Writer) {
				fmt.Fprintf(w, "Synced %d providers\n", len(providers))
				printProviders(w, providers)
			})
		},
	})
	return cmd
}

func printProviders(out io.Writer, providers []models.PGProvider) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTITLE\tMETHODS")
	for _, p := range providers {
		methods := make([]string, 0, len(p.Methods))
		for _, m := range p.Methods {
			methods = append(methods, m.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Title, strings.Join(methods, ","))
	}
	_ = w.Flush()
}
