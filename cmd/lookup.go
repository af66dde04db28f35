package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"price-aggregator/services"
	"price-aggregator/storage"
)

var (
	lookupJSON bool
	lookupCSV  string
	lookupSort string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [item]",
	Short: "Aggregate prices for one item and print the report",
	Args:  cobra.ExactArgs(1),
	RunE:  runLookup,
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print the report as JSON")
	lookupCmd.Flags().StringVar(&lookupCSV, "csv", "", "also write the listings to this CSV file")
	lookupCmd.Flags().StringVar(&lookupSort, "sort", "", "listing order: price_asc, price_desc, date_desc, date_asc, marketplace")
	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	var order services.SortOrder
	if lookupSort != "" {
		parsed, err := services.ParseSortOrder(lookupSort)
		if err != nil {
			return err
		}
		order = parsed
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.prices.Lookup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	report := *res.Report
	if order != "" {
		report.Listings = services.SortListings(report.Listings, order)
	}

	if lookupCSV != "" {
		w, err := storage.NewCSVWriter(lookupCSV)
		if err != nil {
			return err
		}
		if err := w.WriteReport(&report); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		logger.Info("Listings saved to %s", lookupCSV)
	}

	if lookupJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	printReport(cmd.OutOrStdout(), &report)
	return nil
}
