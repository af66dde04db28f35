package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeStatus is the final state of one connector call within a query.
type OutcomeStatus string

const (
	StatusSuccess OutcomeStatus = "success"
	StatusEmpty   OutcomeStatus = "empty"
	StatusError   OutcomeStatus = "error"
	StatusTimeout OutcomeStatus = "timeout"
)

// ConnectorOutcome records what happened to a single connector call.
type ConnectorOutcome struct {
	Marketplace string        `json:"marketplace"`
	Status      OutcomeStatus `json:"status"`
	ItemCount   int           `json:"item_count"`
	ElapsedMs   int64         `json:"elapsed_ms"`
	Error       string        `json:"error,omitempty"`
}

// PriceRange summarises normalized prices of a report.
type PriceRange struct {
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
	Avg      decimal.Decimal `json:"avg"`
	Currency string          `json:"currency"`
}

// Summary holds the aggregate statistics attached to every report.
type Summary struct {
	TotalListings           int            `json:"total_listings"`
	MarketplacesQueried     int            `json:"marketplaces_queried"`
	MarketplacesSuccessful  int            `json:"marketplaces_successful"`
	PriceRange              *PriceRange    `json:"price_range"`
	CurrencyDistribution    map[string]int `json:"currency_distribution"`
	MarketplaceDistribution map[string]int `json:"marketplace_distribution"`
}

// AggregationReport is the combined answer for one query. It is built once
// by the aggregator and never modified afterwards; the cache stores it as is.
type AggregationReport struct {
	ID               string              `json:"id"`
	Query            string              `json:"query"`
	Listings         []NormalizedListing `json:"listings"`
	Cheapest         *NormalizedListing  `json:"cheapest"`
	BestDeal         *ScoredListing      `json:"best_deal"`
	Outcomes         []ConnectorOutcome  `json:"outcomes"`
	Summary          Summary             `json:"summary"`
	Errors           []string            `json:"errors,omitempty"`
	Warning          string              `json:"warning,omitempty"`
	Diagnostic       string              `json:"diagnostic,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	CompletedAt      time.Time           `json:"completed_at"`
	ProcessingTimeMs int64               `json:"processing_time_ms"`
}

// Failed reports whether the report was produced by the internal error path.
func (r *AggregationReport) Failed() bool {
	return r != nil && r.Diagnostic != ""
}
