package services

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-aggregator/models"
)

const (
	weightPrice      = 0.4
	weightReputation = 0.3
	weightRecency    = 0.2
	weightSecurity   = 0.1

	recencyWindow     = 72 * time.Hour
	defaultReputation = 0.5
	insecureScore     = 0.5
)

// exchangeRates are fixed approximations: USD per one unit of currency.
var exchangeRates = map[string]decimal.Decimal{
	"USD": decimal.NewFromInt(1),
	"EUR": decimal.RequireFromString("1.07"),
	"GBP": decimal.RequireFromString("1.27"),
	"RUB": decimal.RequireFromString("0.011"),
	"BRL": decimal.RequireFromString("0.20"),
	"IDR": decimal.RequireFromString("0.000064"),
	"CNY": decimal.RequireFromString("0.14"),
}

// defaultReputations apply when the registry has no override.
var defaultReputations = map[string]float64{
	"steam":      1.0,
	"skinport":   0.9,
	"bitskins":   0.85,
	"buff":       0.8,
	"csgomarket": 0.75,
}

// Scorer normalises listings into USD and ranks them. It holds no mutable
// state; results depend only on inputs, the reputation table and the clock.
type Scorer struct {
	reputations ReputationLookup
	now         func() time.Time
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithReputations consults lookup before the built-in reputation table.
func WithReputations(lookup ReputationLookup) ScorerOption {
	return func(s *Scorer) { s.reputations = lookup }
}

// WithScoringClock replaces time.Now for recency calculations.
func WithScoringClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a Scorer.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rate returns the USD rate for currency. Unknown currencies are treated as USD.
func Rate(currency string) decimal.Decimal {
	if r, ok := exchangeRates[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return r
	}
	return exchangeRates[models.ReferenceCurrency]
}

// Normalize converts every listing to USD, rounded to cents. The result is
// never nil.
func (s *Scorer) Normalize(raw []models.RawListing) []models.NormalizedListing {
	out := make([]models.NormalizedListing, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.NormalizedListing{
			RawListing:         r,
			NormalizedPrice:    r.Price.Mul(Rate(r.Currency)).Round(2),
			NormalizedCurrency: models.ReferenceCurrency,
		})
	}
	return out
}

// Cheapest returns the listing with the lowest normalized price, the first
// one on ties, or nil for an empty input.
func (s *Scorer) Cheapest(listings []models.NormalizedListing) *models.NormalizedListing {
	if len(listings) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(listings); i++ {
		if listings[i].NormalizedPrice.LessThan(listings[best].NormalizedPrice) {
			best = i
		}
	}
	cheapest := listings[best]
	return &cheapest
}

// ScoreAll scores every listing against the set, preserving input order.
func (s *Scorer) ScoreAll(listings []models.NormalizedListing) []models.ScoredListing {
	if len(listings) == 0 {
		return nil
	}

	minPrice := math.Inf(1)
	maxPrice := math.Inf(-1)
	for _, l := range listings {
		p := l.NormalizedPrice.InexactFloat64()
		minPrice = math.Min(minPrice, p)
		maxPrice = math.Max(maxPrice, p)
	}
	priceRange := maxPrice - minPrice
	now := s.now()

	scored := make([]models.ScoredListing, len(listings))
	for i, l := range listings {
		b := models.ScoreBreakdown{
			Price:      1.0,
			Reputation: s.ReputationOf(l.Marketplace),
			Recency:    recencyScore(now, l.ObservedAt),
			Security:   securityScore(l.URL),
		}
		if priceRange > 0 {
			b.Price = 1 - (l.NormalizedPrice.InexactFloat64()-minPrice)/priceRange
		}

		scored[i] = models.ScoredListing{
			NormalizedListing: l,
			Breakdown:         b,
			Score: b.Price*weightPrice +
				b.Reputation*weightReputation +
				b.Recency*weightRecency +
				b.Security*weightSecurity,
		}
	}
	return scored
}

// BestDeal returns the highest scoring listing, or nil for an empty input.
// Ties go to the lower normalized price, then to the earlier listing.
func (s *Scorer) BestDeal(listings []models.NormalizedListing) *models.ScoredListing {
	scored := s.ScoreAll(listings)
	if len(scored) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(scored); i++ {
		c, b := scored[i], scored[best]
		if c.Score > b.Score ||
			(c.Score == b.Score && c.NormalizedPrice.LessThan(b.NormalizedPrice)) {
			best = i
		}
	}
	deal := scored[best]
	return &deal
}

// ReputationOf returns the trust score for a marketplace.
func (s *Scorer) ReputationOf(marketplace string) float64 {
	name := strings.ToLower(strings.TrimSpace(marketplace))
	if s.reputations != nil {
		if r, ok := s.reputations.Reputation(name); ok {
			return clamp01(r)
		}
	}
	if r, ok := defaultReputations[name]; ok {
		return r
	}
	return defaultReputation
}

func recencyScore(now, observed time.Time) float64 {
	age := now.Sub(observed)
	return clamp01(1 - float64(age)/float64(recencyWindow))
}

func securityScore(raw string) float64 {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err == nil && strings.EqualFold(u.Scheme, "https") {
		return 1.0
	}
	return insecureScore
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// SortOrder names a listing ordering.
type SortOrder string

const (
	SortPriceAsc    SortOrder = "price_asc"
	SortPriceDesc   SortOrder = "price_desc"
	SortDateDesc    SortOrder = "date_desc"
	SortDateAsc     SortOrder = "date_asc"
	SortMarketplace SortOrder = "marketplace"
)

// ParseSortOrder validates a user supplied ordering.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case SortPriceAsc, SortPriceDesc, SortDateDesc, SortDateAsc, SortMarketplace:
		return o, nil
	default:
		return "", fmt.Errorf("unknown sort order %q", s)
	}
}

// SortListings returns a sorted copy of listings. The input is untouched.
func SortListings(listings []models.NormalizedListing, by SortOrder) []models.NormalizedListing {
	sorted := append([]models.NormalizedListing(nil), listings...)

	var less func(a, b models.NormalizedListing) bool
	switch by {
	case SortPriceAsc:
		less = func(a, b models.NormalizedListing) bool { return a.NormalizedPrice.LessThan(b.NormalizedPrice) }
	case SortPriceDesc:
		less = func(a, b models.NormalizedListing) bool { return a.NormalizedPrice.GreaterThan(b.NormalizedPrice) }
	case SortDateDesc:
		less = func(a, b models.NormalizedListing) bool { return a.ObservedAt.After(b.ObservedAt) }
	case SortDateAsc:
		less = func(a, b models.NormalizedListing) bool { return a.ObservedAt.Before(b.ObservedAt) }
	case SortMarketplace:
		less = func(a, b models.NormalizedListing) bool { return a.Marketplace < b.Marketplace }
	default:
		return sorted
	}

	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

// FilterByPriceRange keeps listings whose normalized price lies in [min, max].
func FilterByPriceRange(listings []models.NormalizedListing, min, max decimal.Decimal) []models.NormalizedListing {
	out := make([]models.NormalizedListing, 0, len(listings))
	for _, l := range listings {
		if l.NormalizedPrice.GreaterThanOrEqual(min) && l.NormalizedPrice.LessThanOrEqual(max) {
			out = append(out, l)
		}
	}
	return out
}
