package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"price-aggregator/models"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[1;31m"
	ansiGreen  = "\033[1;32m"
	ansiYellow = "\033[1;33m"
	ansiPurple = "\033[1;35m"
)

// printReport renders a report as a coloured terminal summary.
func printReport(w io.Writer, r *models.AggregationReport) {
	sep := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	fmt.Fprintf(w, "\n%s%s%s\n", ansiPurple, sep, ansiReset)
	fmt.Fprintf(w, "%s  PRICE REPORT: %s%s\n", ansiPurple, r.Query, ansiReset)
	fmt.Fprintf(w, "%s%s%s\n\n", ansiPurple, sep, ansiReset)

	if r.Diagnostic != "" {
		fmt.Fprintf(w, "  %sAggregation failed: %s%s\n\n", ansiRed, r.Diagnostic, ansiReset)
	}

	fmt.Fprintf(w, "%s  Listings%s\n", ansiYellow, ansiReset)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.Listings) == 0 {
		fmt.Fprintf(w, "  No listings found\n")
	}
	for _, l := range r.Listings {
		fmt.Fprintf(w, "  %-12s %-30s %10s %-3s  %s$%s%s\n",
			truncate(l.Marketplace, 12), truncate(l.ItemName, 30),
			l.Price.StringFixed(2), l.Currency,
			ansiGreen, l.NormalizedPrice.StringFixed(2), ansiReset)
	}
	fmt.Fprintln(w)

	if r.Cheapest != nil {
		fmt.Fprintf(w, "%s  Cheapest%s\n", ansiYellow, ansiReset)
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s%s%s at %s%s$%s%s\n", ansiBold, r.Cheapest.Marketplace, ansiReset,
			truncate(r.Cheapest.URL, 40), ansiGreen, r.Cheapest.NormalizedPrice.StringFixed(2), ansiReset)
		fmt.Fprintln(w)
	}

	if r.BestDeal != nil {
		b := r.BestDeal.Breakdown
		fmt.Fprintf(w, "%s  Best Deal%s\n", ansiYellow, ansiReset)
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s%s%s  $%s  score %s%.4f%s\n", ansiBold, r.BestDeal.Marketplace, ansiReset,
			r.BestDeal.NormalizedPrice.StringFixed(2), ansiGreen, r.BestDeal.Score, ansiReset)
		fmt.Fprintf(w, "  price %.3f | reputation %.3f | recency %.3f | security %.3f\n",
			b.Price, b.Reputation, b.Recency, b.Security)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s  Summary%s\n", ansiYellow, ansiReset)
	fmt.Fprintf(w, "  %s\n", thin)
	s := r.Summary
	fmt.Fprintf(w, "  Total listings      : %s%d%s\n", ansiBold, s.TotalListings, ansiReset)
	fmt.Fprintf(w, "  Marketplaces        : %d/%d responded\n", s.MarketplacesSuccessful, s.MarketplacesQueried)
	if s.PriceRange != nil {
		fmt.Fprintf(w, "  Price range (%s)  : %s - %s (avg %s)\n", s.PriceRange.Currency,
			s.PriceRange.Min.StringFixed(2), s.PriceRange.Max.StringFixed(2), s.PriceRange.Avg.StringFixed(2))
	}
	if len(s.CurrencyDistribution) > 0 {
		fmt.Fprintf(w, "  Currencies          : %s\n", formatCounts(s.CurrencyDistribution))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s  Marketplaces%s\n", ansiYellow, ansiReset)
	fmt.Fprintf(w, "  %s\n", thin)
	for _, o := range r.Outcomes {
		color := ansiGreen
		switch o.Status {
		case models.StatusError, models.StatusTimeout:
			color = ansiRed
		case models.StatusEmpty:
			color = ansiYellow
		}
		fmt.Fprintf(w, "  %-12s %s%-8s%s %3d items %6dms", truncate(o.Marketplace, 12), color, o.Status, ansiReset, o.ItemCount, o.ElapsedMs)
		if o.Error != "" {
			fmt.Fprintf(w, "  %s", truncate(o.Error, 40))
		}
		fmt.Fprintln(w)
	}

	if r.Warning != "" {
		fmt.Fprintf(w, "\n  %sWarning: %s%s\n", ansiYellow, r.Warning, ansiReset)
	}

	fmt.Fprintf(w, "\n%s%s%s\n", ansiPurple, sep, ansiReset)
	fmt.Fprintf(w, "  Report %s completed in %dms\n\n", r.ID, r.ProcessingTimeMs)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
