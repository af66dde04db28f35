package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"price-aggregator/models"
)

var csvHeader = []string{
	"query", "marketplace", "item_name", "price", "currency",
	"normalized_price_usd", "url", "observed_at", "cheapest", "best_deal", "note",
}

// CSVWriter writes report listings as CSV rows. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// NewCSVStreamWriter writes CSV to w, for example an HTTP response. Close
// flushes but does not close w.
func NewCSVStreamWriter(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(w, nil)
}

func newCSVWriter(w io.Writer, closer io.Closer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{closer: closer, writer: cw}, cw.Error()
}

// WriteReport appends one row per listing of report.
func (c *CSVWriter) WriteReport(report *models.AggregationReport) error {
	if report == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, l := range report.Listings {
		row := []string{
			report.Query,
			l.Marketplace,
			l.ItemName,
			l.Price.String(),
			l.Currency,
			l.NormalizedPrice.StringFixed(2),
			l.URL,
			l.ObservedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(report.Cheapest != nil && sameListing(report.Listings, i, report.Cheapest)),
			strconv.FormatBool(report.BestDeal != nil && sameListing(report.Listings, i, &report.BestDeal.NormalizedListing)),
			l.Note,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// sameListing reports whether listings[i] is the first listing equal to want.
// Reports carry copies, so identity is established by content and position.
func sameListing(listings []models.NormalizedListing, i int, want *models.NormalizedListing) bool {
	for j := range listings {
		if equalListing(listings[j], *want) {
			return j == i
		}
	}
	return false
}

func equalListing(a, b models.NormalizedListing) bool {
	return a.Marketplace == b.Marketplace &&
		a.ItemName == b.ItemName &&
		a.URL == b.URL &&
		a.Currency == b.Currency &&
		a.Price.Equal(b.Price) &&
		a.ObservedAt.Equal(b.ObservedAt)
}

// Close flushes and closes the underlying file, if any.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return fmt.Errorf("csv: flush: %w", err)
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
