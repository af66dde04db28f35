package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"price-aggregator/services"
)

var marketplacesCmd = &cobra.Command{
	Use:   "marketplaces",
	Short: "List the registered marketplaces and their reputations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return printMarketplaces(cmd.OutOrStdout(), a.registry)
	},
}

func init() {
	rootCmd.AddCommand(marketplacesCmd)
}

func printMarketplaces(w io.Writer, reg *services.Registry) error {
	scorer := services.NewScorer(services.WithReputations(reg))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tREPUTATION\tENDPOINT")
	for _, e := range reg.Entries() {
		kind, endpoint := "-", "-"
		if e.Definition != nil {
			kind = e.Definition.Kind
			if e.Definition.Endpoint != "" {
				endpoint = e.Definition.Endpoint
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", e.Name, kind, scorer.ReputationOf(e.Name), endpoint)
	}
	return tw.Flush()
}
