// Package static serves a fixed quote for every item. It stands in for
// marketplaces without a public price feed during development and demos.
package static

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"price-aggregator/models"
)

type Connector struct {
	name     string
	price    decimal.Decimal
	currency string
	url      string
	now      func() time.Time
}

// New creates a Connector quoting price in currency for every query.
func New(name string, price decimal.Decimal, currency, url string) *Connector {
	if currency == "" {
		currency = models.ReferenceCurrency
	}
	return &Connector{name: name, price: price, currency: currency, url: url, now: time.Now}
}

func (c *Connector) Name() string { return c.name }

func (c *Connector) FetchListings(ctx context.Context, item string) ([]models.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []models.RawListing{{
		Marketplace: c.name,
		ItemName:    item,
		Price:       c.price,
		Currency:    c.currency,
		URL:         c.url,
		ObservedAt:  c.now(),
		Note:        "static quote",
	}}, nil
}
