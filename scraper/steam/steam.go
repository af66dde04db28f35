// Package steam reads the lowest current price of an item from the Steam
// Community Market price overview endpoint.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"price-aggregator/models"
	"price-aggregator/scraper/pricetext"
	"price-aggregator/utils"
)

const (
	DefaultEndpoint = "https://steamcommunity.com/market/priceoverview/"
	DefaultAppID    = 730

	listingsURL = "https://steamcommunity.com/market/listings/%d/%s"
	userAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// currencyCodes maps ISO codes to Steam's numeric wallet currencies.
var currencyCodes = map[string]int{
	"USD": 1,
	"GBP": 2,
	"EUR": 3,
	"RUB": 5,
	"BRL": 7,
	"IDR": 10,
	"CNY": 23,
}

// Config configures a Connector.
type Config struct {
	Name     string
	Endpoint string
	AppID    int
	Currency string
	Client   *http.Client
	Throttle *utils.Throttle
	Retry    *utils.RetryConfig
	Logger   *utils.Logger
	Now      func() time.Time
}

// Connector queries one Steam market endpoint.
type Connector struct {
	cfg Config
}

type priceOverview struct {
	Success     bool   `json:"success"`
	LowestPrice string `json:"lowest_price"`
	MedianPrice string `json:"median_price"`
	Volume      string `json:"volume"`
}

// New creates a Connector, filling unset fields with defaults.
func New(cfg Config) *Connector {
	if cfg.Name == "" {
		cfg.Name = models.KindSteam
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.AppID == 0 {
		cfg.AppID = DefaultAppID
	}
	if _, ok := currencyCodes[cfg.Currency]; !ok {
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
	return &Connector{cfg: cfg}
}

func (c *Connector) Name() string { return c.cfg.Name }

// FetchListings returns at most one listing: the lowest price on the market.
// An unknown item yields an empty result.
func (c *Connector) FetchListings(ctx context.Context, item string) ([]models.RawListing, error) {
	var overview priceOverview
	err := c.cfg.Retry.Do(ctx, c.cfg.Name+"-priceoverview", func(ctx context.Context) error {
		if err := c.cfg.Throttle.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrPermanent, err)
		}
		var err error
		overview, err = c.fetch(ctx, item)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !overview.Success || overview.LowestPrice == "" {
		c.cfg.Logger.Debug("[%s] no market data for %q", c.cfg.Name, item)
		return []models.RawListing{}, nil
	}

	price, currency, err := pricetext.Parse(overview.LowestPrice)
	if err != nil {
		return nil, fmt.Errorf("steam: lowest price: %w", err)
	}
	if currency == "" {
		currency = c.cfg.Currency
	}

	listing := models.RawListing{
		Marketplace: c.cfg.Name,
		ItemName:    item,
		Price:       price,
		Currency:    currency,
		URL:         fmt.Sprintf(listingsURL, c.cfg.AppID, url.PathEscape(item)),
		ObservedAt:  c.cfg.Now(),
	}
	if overview.Volume != "" {
		listing.Note = "24h volume " + overview.Volume
	}
	return []models.RawListing{listing}, nil
}

func (c *Connector) fetch(ctx context.Context, item string) (priceOverview, error) {
	var overview priceOverview

	q := url.Values{}
	q.Set("appid", strconv.Itoa(c.cfg.AppID))
	q.Set("currency", strconv.Itoa(currencyCodes[c.cfg.Currency]))
	q.Set("market_hash_name", item)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return overview, fmt.Errorf("%w: steam: build request: %v", utils.ErrPermanent, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return overview, fmt.Errorf("steam: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return overview, fmt.Errorf("steam: status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		// Unknown market_hash_name; Steam answers 404 or success:false.
		return overview, nil
	case resp.StatusCode != http.StatusOK:
		return overview, fmt.Errorf("%w: steam: status %d", utils.ErrPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return overview, fmt.Errorf("steam: read body: %w", err)
	}
	if err := json.Unmarshal(body, &overview); err != nil {
		return overview, fmt.Errorf("%w: steam: decode: %v", utils.ErrPermanent, err)
	}
	overview.LowestPrice = strings.TrimSpace(overview.LowestPrice)
	return overview, nil
}
