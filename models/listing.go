package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceCurrency is the currency every listing is normalised into.
const ReferenceCurrency = "USD"

// RawListing is a single price quote exactly as a connector reported it.
// Connectors create it; nothing downstream modifies it.
type RawListing struct {
	Marketplace string          `json:"marketplace"`
	ItemName    string          `json:"item_name"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	URL         string          `json:"url"`
	ObservedAt  time.Time       `json:"observed_at"`
	// Note is connector-owned free text (e.g. a synthetic fallback marker).
	Note string `json:"note,omitempty"`
}

// NormalizedListing is a RawListing with its price converted to USD.
type NormalizedListing struct {
	RawListing
	NormalizedPrice    decimal.Decimal `json:"normalized_price"`
	NormalizedCurrency string          `json:"normalized_currency"`
}

// ScoreBreakdown holds the four weighted components of a deal score.
type ScoreBreakdown struct {
	Price      float64 `json:"price"`
	Reputation float64 `json:"reputation"`
	Recency    float64 `json:"recency"`
	Security   float64 `json:"security"`
}

// ScoredListing is a NormalizedListing annotated with its deal score.
type ScoredListing struct {
	NormalizedListing
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"score_breakdown"`
}
