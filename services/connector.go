package services

import (
	"context"

	"price-aggregator/models"
)

// Connector is a black-box source of raw listings for one marketplace.
//
// FetchListings must return an error rather than a malformed value when
// anything goes wrong internally. An empty slice is a valid answer and is
// distinct from a failure.
type Connector interface {
	Name() string
	FetchListings(ctx context.Context, item string) ([]models.RawListing, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc struct {
	ID    string
	Fetch func(ctx context.Context, item string) ([]models.RawListing, error)
}

func (c ConnectorFunc) Name() string { return c.ID }

func (c ConnectorFunc) FetchListings(ctx context.Context, item string) ([]models.RawListing, error) {
	return c.Fetch(ctx, item)
}

// ConnectorSource hands out the connectors to query.
type ConnectorSource interface {
	Connectors() []Connector
}

// ReputationLookup supplies per-marketplace trust scores.
type ReputationLookup interface {
	Reputation(marketplace string) (float64, bool)
}

// ReportAggregator builds one report for a query.
type ReportAggregator interface {
	Aggregate(ctx context.Context, query string, connectors []Connector) *models.AggregationReport
}
