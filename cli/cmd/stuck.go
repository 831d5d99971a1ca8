package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	collectorapi "billingstack/pkg/api/collector"
)

func newStuckCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List configs and payment methods stuck in a non-terminal state (admin)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, err := cmd.Flags().GetDuration("older-than")
			if err != nil {
				return err
			}
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			c, err := s.client()
			if err != nil {
				return err
			}
			stuck, err := c.ListStuck(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			return s.render(cmd.OutOrStdout(), stuck, func(w io.Writer) { printStuck(w, stuck) })
		},
	}
	cmd.Flags().Duration("older-than", 0, "only rows not updated for this long (default: server threshold)")
	return cmd
}

func printStuck(w io.Writer, stuck *collectorapi.StuckResponse) {
	fmt.Fprintf(w, "Stuck for more than %s\n\n", stuck.OlderThan)
	fmt.Fprintf(w, "Gateway configs (%d)\n", len(stuck.PGConfigs))
	if len(stuck.PGConfigs) > 0 {
		printConfigs(w, stuck.PGConfigs...)
	}
	fmt.Fprintf(w, "\nPayment methods (%d)\n", len(stuck.PaymentMethods))
	if len(stuck.PaymentMethods) > 0 {
		printMethods(w, stuck.PaymentMethods...)
	}
}

// promptConfirm asks on the command's input. skip (--yes) confirms without asking.
func promptConfirm(cmd *cobra.Command, prompt string, skip bool) bool {
	if skip {
		return true
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
