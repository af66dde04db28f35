// Package httpjson connects to marketplaces that expose listings as JSON.
//
// The endpoint is called as GET {endpoint}?item={name} and may answer with
// either a bare array of listings or an object {"listings": [...]}.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-aggregator/models"
	"price-aggregator/utils"
)

const maxBody = 4 << 20

// Config configures a Connector.
type Config struct {
	Name     string
	Endpoint string
	Currency string
	Client   *http.Client
	Throttle *utils.Throttle
	Retry    *utils.RetryConfig
	Logger   *utils.Logger
	Now      func() time.Time
}

// Connector fetches listings from one JSON endpoint.
type Connector struct {
	cfg Config
}

type wireListing struct {
	ItemName   string          `json:"item_name"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	URL        string          `json:"url"`
	ObservedAt *time.Time      `json:"observed_at"`
	Note       string          `json:"note"`
}

type envelope struct {
	Listings []wireListing `json:"listings"`
}

// New creates a Connector. Endpoint must be an absolute http(s) URL.
func New(cfg Config) (*Connector, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("httpjson: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.Name == "" {
		cfg.Name = u.Hostname()
	}
	if cfg.Currency == "" {
		cfg.Currency = models.ReferenceCurrency
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Throttle == nil {
		cfg.Throttle = utils.NewThrottle(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewNopLogger()
	}
	if cfg.Retry == nil {
		cfg.Retry = &utils.RetryConfig{MaxAttempts: 1, Logger: cfg.Logger}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Connector{cfg: cfg}, nil
}

func (c *Connector) Name() string { return c.cfg.Name }

func (c *Connector) FetchListings(ctx context.Context, item string) ([]models.RawListing, error) {
	var wire []wireListing
	err := c.cfg.Retry.Do(ctx, c.cfg.Name+"-fetch", func(ctx context.Context) error {
		if err := c.cfg.Throttle.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrPermanent, err)
		}
		var err error
		wire, err = c.fetch(ctx, item)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := c.cfg.Now()
	listings := make([]models.RawListing, 0, len(wire))
	for i, w := range wire {
		if w.Price.IsNegative() {
			return nil, fmt.Errorf("httpjson: %s: listing %d has negative price", c.cfg.Name, i)
		}
		l := models.RawListing{
			Marketplace: c.cfg.Name,
			ItemName:    firstNonEmpty(w.ItemName, w.Name, item),
			Price:       w.Price,
			Currency:    strings.ToUpper(firstNonEmpty(w.Currency, c.cfg.Currency)),
			URL:         firstNonEmpty(w.URL, c.cfg.Endpoint),
			ObservedAt:  now,
			Note:        w.Note,
		}
		if w.ObservedAt != nil && !w.ObservedAt.IsZero() {
			l.ObservedAt = *w.ObservedAt
		}
		listings = append(listings, l)
	}

	c.cfg.Logger.Debug("[%s] %d listings for %q", c.cfg.Name, len(listings), item)
	return listings, nil
}

func (c *Connector) fetch(ctx context.Context, item string) ([]wireListing, error) {
	u, _ := url.Parse(c.cfg.Endpoint)
	q := u.Query()
	q.Set("item", item)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: httpjson: build request: %v", utils.ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpjson: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("httpjson: status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: httpjson: status %d", utils.ErrPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("httpjson: read body: %w", err)
	}
	return decode(body)
}

func decode(body []byte) ([]wireListing, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var list []wireListing
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: httpjson: decode: %v", utils.ErrPermanent, err)
		}
		return list, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: httpjson: decode: %v", utils.ErrPermanent, err)
	}
	return env.Listings, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
