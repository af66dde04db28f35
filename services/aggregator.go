package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"price-aggregator/models"
	"price-aggregator/utils"
)

const (
	DefaultConnectorTimeout = 15 * time.Second

	warningNoListings = "no listings found"
	warningPartial    = "some marketplaces failed to respond"
)

// Aggregator fans a query out to every connector concurrently and merges
// whatever comes back into one report. It never fails as a whole: every
// connector problem is recorded in that connector's outcome.
type Aggregator struct {
	scorer  *Scorer
	timeout time.Duration
	logger  *utils.Logger
}

// NewAggregator creates an Aggregator. A non-positive timeout falls back to
// DefaultConnectorTimeout.
func NewAggregator(scorer *Scorer, timeout time.Duration, logger *utils.Logger) *Aggregator {
	if scorer == nil {
		scorer = NewScorer()
	}
	if timeout <= 0 {
		timeout = DefaultConnectorTimeout
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Aggregator{scorer: scorer, timeout: timeout, logger: logger}
}

type fetchResult struct {
	listings []models.RawListing
	err      error
}

// Aggregate queries all connectors for query and returns the combined report.
// It returns once every connector has answered or hit its deadline.
func (a *Aggregator) Aggregate(ctx context.Context, query string, connectors []Connector) (report *models.AggregationReport) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("[aggregator] internal error while aggregating %q: %v", query, r)
			report = a.diagnosticReport(query, started, fmt.Sprintf("internal error: %v", r))
		}
	}()

	a.logger.Info("[aggregator] aggregating %q across %d marketplaces", query, len(connectors))

	results := make([][]models.RawListing, len(connectors))
	outcomes := make([]models.ConnectorOutcome, len(connectors))

	var g errgroup.Group
	for i, conn := range connectors {
		g.Go(func() error {
			results[i], outcomes[i] = a.invoke(ctx, conn, query)
			return nil
		})
	}
	_ = g.Wait()

	var raw []models.RawListing
	var errs []string
	for i, o := range outcomes {
		raw = append(raw, results[i]...)
		if o.Status == models.StatusError || o.Status == models.StatusTimeout {
			errs = append(errs, fmt.Sprintf("%s: %s", o.Marketplace, o.Error))
		}
	}

	return a.buildReport(query, started, raw, outcomes, errs)
}

// invoke runs one connector under its own deadline. The connector call lives
// in a separate goroutine so that a call ignoring its context cannot hold up
// the report; its late result lands in a buffered channel nobody reads.
func (a *Aggregator) invoke(ctx context.Context, conn Connector, query string) ([]models.RawListing, models.ConnectorOutcome) {
	start := time.Now()
	outcome := models.ConnectorOutcome{Marketplace: connectorName(conn)}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("connector panic: %v", r)}
			}
		}()
		listings, err := conn.FetchListings(callCtx, query)
		done <- fetchResult{listings: listings, err: err}
	}()

	var listings []models.RawListing
	select {
	case res := <-done:
		switch {
		case res.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			outcome.Status = models.StatusTimeout
			outcome.Error = fmt.Sprintf("timed out after %s", a.timeout)
		case res.err != nil:
			outcome.Status = models.StatusError
			outcome.Error = res.err.Error()
		default:
			if err := validateListings(res.listings); err != nil {
				outcome.Status = models.StatusError
				outcome.Error = err.Error()
				break
			}
			listings = append([]models.RawListing(nil), res.listings...)
			outcome.Status = models.StatusSuccess
			if len(listings) == 0 {
				outcome.Status = models.StatusEmpty
			}
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			outcome.Status = models.StatusError
			outcome.Error = fmt.Sprintf("cancelled: %v", ctx.Err())
		} else {
			outcome.Status = models.StatusTimeout
			outcome.Error = fmt.Sprintf("timed out after %s", a.timeout)
		}
	}

	outcome.ItemCount = len(listings)
	outcome.ElapsedMs = time.Since(start).Milliseconds()
	a.logOutcome(outcome)
	return listings, outcome
}

func (a *Aggregator) logOutcome(o models.ConnectorOutcome) {
	switch o.Status {
	case models.StatusSuccess:
		a.logger.Info("[aggregator] [%s] success: %d items (%dms)", o.Marketplace, o.ItemCount, o.ElapsedMs)
	case models.StatusEmpty:
		a.logger.Info("[aggregator] [%s] no results (%dms)", o.Marketplace, o.ElapsedMs)
	default:
		a.logger.Warn("[aggregator] [%s] %s: %s (%dms)", o.Marketplace, o.Status, o.Error, o.ElapsedMs)
	}
}

func (a *Aggregator) buildReport(query string, started time.Time, raw []models.RawListing, outcomes []models.ConnectorOutcome, errs []string) *models.AggregationReport {
	listings := a.scorer.Normalize(raw)

	report := &models.AggregationReport{
		ID:        uuid.NewString(),
		Query:     query,
		Listings:  listings,
		Cheapest:  a.scorer.Cheapest(listings),
		BestDeal:  a.scorer.BestDeal(listings),
		Outcomes:  outcomes,
		Summary:   Summarize(listings, outcomes),
		Errors:    errs,
		StartedAt: started,
	}

	switch {
	case len(listings) == 0:
		report.Warning = warningNoListings
	case len(errs) > 0:
		report.Warning = warningPartial
	}

	finish(report)
	a.logger.Info("[aggregator] %q done: %d listings from %d/%d marketplaces in %dms",
		query, len(listings), report.Summary.MarketplacesSuccessful, len(outcomes), report.ProcessingTimeMs)
	return report
}

func (a *Aggregator) diagnosticReport(query string, started time.Time, diagnostic string) *models.AggregationReport {
	report := &models.AggregationReport{
		ID:         uuid.NewString(),
		Query:      query,
		Listings:   []models.NormalizedListing{},
		Summary:    Summarize(nil, nil),
		Warning:    warningNoListings,
		Diagnostic: diagnostic,
		StartedAt:  started,
	}
	finish(report)
	return report
}

func finish(report *models.AggregationReport) {
	report.CompletedAt = time.Now()
	report.ProcessingTimeMs = report.CompletedAt.Sub(report.StartedAt).Milliseconds()
}

func validateListings(listings []models.RawListing) error {
	for i, l := range listings {
		if l.Marketplace == "" {
			return fmt.Errorf("malformed listing %d: missing marketplace", i)
		}
		if l.Price.IsNegative() {
			return fmt.Errorf("malformed listing %d: negative price %s", i, l.Price)
		}
	}
	return nil
}

func connectorName(conn Connector) (name string) {
	defer func() {
		if r := recover(); r != nil {
			name = "unknown"
		}
	}()
	return conn.Name()
}
