package storage

import (
	"context"

	"price-aggregator/models"
)

// MarketplaceStore persists marketplace definitions so that runtime
// registrations survive a restart.
type MarketplaceStore interface {
	Save(ctx context.Context, def models.Marketplace) error
	Delete(ctx context.Context, name string) (bool, error)
	LoadAll(ctx context.Context) ([]models.Marketplace, error)
	Close() error
}

// ReportWriter is the interface for exporting report listings.
type ReportWriter interface {
	WriteReport(report *models.AggregationReport) error
	Close() error
}
