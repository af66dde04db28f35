package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"price-aggregator/cache"
	"price-aggregator/models"
	"price-aggregator/utils"
)

var (
	ErrEmptyQuery    = errors.New("item name is required")
	ErrBatchEmpty    = errors.New("batch contains no items")
	ErrBatchTooLarge = errors.New("batch too large")
)

const (
	DefaultBatchMaxItems    = 10
	DefaultBatchConcurrency = 2
)

// Result is the answer to one lookup.
type Result struct {
	Report *models.AggregationReport `json:"report"`
	Cached bool                      `json:"cached"`
	Stale  bool                      `json:"stale"`
}

// BatchResult is one item of a batch lookup.
type BatchResult struct {
	Item string `json:"item"`
	Result
	Error string `json:"error,omitempty"`
}

// PriceService answers price queries from the cache, aggregating on a miss.
type PriceService struct {
	agg        ReportAggregator
	cache      *cache.Cache
	connectors ConnectorSource
	logger     *utils.Logger

	singleFlight bool
	flights      singleflight.Group

	batchMax         int
	batchConcurrency int
}

// ServiceOption configures a PriceService.
type ServiceOption func(*PriceService)

// WithSingleFlight collapses concurrent misses for the same item into one
// aggregation.
func WithSingleFlight(enabled bool) ServiceOption {
	return func(s *PriceService) { s.singleFlight = enabled }
}

// WithBatchLimits bounds batch size and how many items run at once.
func WithBatchLimits(maxItems, concurrency int) ServiceOption {
	return func(s *PriceService) {
		if maxItems > 0 {
			s.batchMax = maxItems
		}
		if concurrency > 0 {
			s.batchConcurrency = concurrency
		}
	}
}

func WithServiceLogger(l *utils.Logger) ServiceOption {
	return func(s *PriceService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewPriceService wires an aggregator to a cache and a connector source.
func NewPriceService(agg ReportAggregator, c *cache.Cache, connectors ConnectorSource, opts ...ServiceOption) *PriceService {
	s := &PriceService{
		agg:              agg,
		cache:            c,
		connectors:       connectors,
		logger:           utils.NewNopLogger(),
		batchMax:         DefaultBatchMaxItems,
		batchConcurrency: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the report for item. The only error is ErrEmptyQuery;
// everything else degrades into report content.
func (s *PriceService) Lookup(ctx context.Context, item string) (Result, error) {
	key := strings.TrimSpace(item)
	if key == "" {
		return Result{}, ErrEmptyQuery
	}

	// Get drops expired entries, so grab a fallback candidate first.
	stale, _ := s.cache.Peek(key)

	if report, ok := s.cache.Get(key); ok {
		s.logger.Debug("[prices] cache hit for %q", key)
		return Result{Report: report, Cached: true}, nil
	}

	report := s.aggregate(ctx, key)
	if report.Failed() && stale != nil {
		s.logger.Warn("[prices] aggregation for %q failed (%s), serving stale report %s",
			key, report.Diagnostic, stale.ID)
		return Result{Report: stale, Cached: true, Stale: true}, nil
	}
	return Result{Report: report}, nil
}

func (s *PriceService) aggregate(ctx context.Context, key string) *models.AggregationReport {
	if !s.singleFlight {
		return s.aggregateAndStore(ctx, key)
	}
	// The shared aggregation must not die with whichever caller started it;
	// connector timeouts still bound it.
	detached := context.WithoutCancel(ctx)
	v, _, shared := s.flights.Do(key, func() (any, error) {
		return s.aggregateAndStore(detached, key), nil
	})
	if shared {
		s.logger.Debug("[prices] joined in-flight aggregation for %q", key)
	}
	return v.(*models.AggregationReport)
}

func (s *PriceService) aggregateAndStore(ctx context.Context, key string) *models.AggregationReport {
	report := s.agg.Aggregate(ctx, key, s.connectors.Connectors())
	switch {
	case report.Failed():
	case ctx.Err() != nil:
		// Outcomes reflect the caller going away, not the marketplaces.
		s.logger.Debug("[prices] not caching %q: %v", key, ctx.Err())
	default:
		s.cache.Set(key, report, 0)
	}
	return report
}

// AggregateMany looks up several items, BatchConcurrency at a time. Results
// keep the input order; per-item failures are reported in BatchResult.Error.
func (s *PriceService) AggregateMany(ctx context.Context, items []string) ([]BatchResult, error) {
	if len(items) == 0 {
		return nil, ErrBatchEmpty
	}
	if len(items) > s.batchMax {
		return nil, fmt.Errorf("%w: %d items, at most %d allowed", ErrBatchTooLarge, len(items), s.batchMax)
	}

	s.logger.Info("[prices] batch of %d items, %d at a time", len(items), s.batchConcurrency)

	results := make([]BatchResult, len(items))
	err := utils.RunInGroups(ctx, len(items), s.batchConcurrency, func(ctx context.Context, i int) error {
		res, err := s.Lookup(ctx, items[i])
		results[i] = BatchResult{Item: strings.TrimSpace(items[i]), Result: res}
		if err != nil {
			results[i].Error = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("services: batch: %w", err)
	}
	return results, nil
}

// BatchLimits reports the configured batch bounds.
func (s *PriceService) BatchLimits() (maxItems, concurrency int) {
	return s.batchMax, s.batchConcurrency
}

func (s *PriceService) Cache() *cache.Cache { return s.cache }
