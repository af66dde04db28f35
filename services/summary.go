package services

import (
	"github.com/shopspring/decimal"

	"price-aggregator/models"
)

// Summarize computes the price range and distributions for a report.
func Summarize(listings []models.NormalizedListing, outcomes []models.ConnectorOutcome) models.Summary {
	summary := models.Summary{
		TotalListings:           len(listings),
		MarketplacesQueried:     len(outcomes),
		CurrencyDistribution:    make(map[string]int),
		MarketplaceDistribution: make(map[string]int),
	}

	for _, o := range outcomes {
		if o.Status == models.StatusSuccess {
			summary.MarketplacesSuccessful++
		}
	}

	if len(listings) == 0 {
		return summary
	}

	minPrice := listings[0].NormalizedPrice
	maxPrice := listings[0].NormalizedPrice
	total := decimal.Zero
	for _, l := range listings {
		total = total.Add(l.NormalizedPrice)
		minPrice = decimal.Min(minPrice, l.NormalizedPrice)
		maxPrice = decimal.Max(maxPrice, l.NormalizedPrice)

		summary.CurrencyDistribution[l.Currency]++
		summary.MarketplaceDistribution[l.Marketplace]++
	}

	summary.PriceRange = &models.PriceRange{
		Min:      minPrice.Round(2),
		Max:      maxPrice.Round(2),
		Avg:      total.Div(decimal.NewFromInt(int64(len(listings)))).Round(2),
		Currency: models.ReferenceCurrency,
	}
	return summary
}
