// Package skinport scrapes the Skinport market page with a headless browser.
package skinport

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"

	"price-aggregator/models"
	"price-aggregator/scraper/pricetext"
	"price-aggregator/utils"
)

const (
	DefaultBaseURL = "https://skinport.com"

	defaultPageTimeout = 12 * time.Second
	userAgent          = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// fallbackPrice is quoted by the synthetic listing when scraping yields nothing.
var fallbackPrice = decimal.RequireFromString("82.50")

// Config configures a Scraper.
type Config struct {
	Name        string
	BaseURL     string
	ChromeBin   string
	Fallback    bool
	PageTimeout time.Duration
	Throttle    *utils.Throttle
	Retry       *utils.RetryConfig
	Logger      *utils.Logger
	Now         func() time.Time
}

// Scraper is a connector backed by chromedp.
type Scraper struct {
	cfg        Config
	fetchCards func(ctx context.Context, item string) ([]card, error)
}

// card is what the page script extracts for every market tile.
type card struct {
	Name  string `json:"name"`
	Price string `json:"price"`
	URL   string `json:"url"`
}

// New creates a ready-to-use Skinport Scraper.
func New(cfg Config) *Scraper {
	if cfg.Name == "" {
		cfg.Name = models.KindSkinport
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = defaultPageTimeout
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
	s := &Scraper{cfg: cfg}
	s.fetchCards = s.scrape
	return s
}

func (s *Scraper) Name() string { return s.cfg.Name }

// FetchListings scrapes the market page for item. With Fallback enabled a
// failed or empty scrape produces one synthetic listing marked in Note.
func (s *Scraper) FetchListings(ctx context.Context, item string) ([]models.RawListing, error) {
	s.cfg.Logger.Info("[%s] scraping %q", s.cfg.Name, item)

	cards, err := s.fetchCards(ctx, item)
	if err != nil {
		if s.cfg.Fallback && ctx.Err() == nil {
			s.cfg.Logger.Warn("[%s] scrape failed for %q: %v, using synthetic listing", s.cfg.Name, item, err)
			return []models.RawListing{s.synthetic(item, "synthetic fallback: scraping failed")}, nil
		}
		return nil, fmt.Errorf("skinport: %w", err)
	}

	listings := s.toListings(cards, item)
	if len(listings) == 0 && s.cfg.Fallback {
		s.cfg.Logger.Info("[%s] no items found for %q, using synthetic listing", s.cfg.Name, item)
		return []models.RawListing{s.synthetic(item, "synthetic fallback: no items found")}, nil
	}

	s.cfg.Logger.Info("[%s] found %d items for %q", s.cfg.Name, len(listings), item)
	return listings, nil
}

// toListings keeps cards whose name contains item and whose price parses.
func (s *Scraper) toListings(cards []card, item string) []models.RawListing {
	needle := strings.ToLower(strings.TrimSpace(item))
	seen := utils.NewURLSet()
	now := s.cfg.Now()

	listings := make([]models.RawListing, 0, len(cards))
	for _, c := range cards {
		name := strings.TrimSpace(c.Name)
		if name == "" || !strings.Contains(strings.ToLower(name), needle) {
			continue
		}

		price, currency, err := pricetext.Parse(c.Price)
		if err != nil || !price.IsPositive() {
			s.cfg.Logger.Debug("[%s] skipping %q: unreadable price %q", s.cfg.Name, name, c.Price)
			continue
		}
		if currency == "" {
			currency = models.ReferenceCurrency
		}

		link := strings.TrimSpace(c.URL)
		if link == "" {
			link = s.cfg.BaseURL + "/item/" + url.PathEscape(name)
		}
		if !seen.Add(link) {
			s.cfg.Logger.Debug("[%s] skipping duplicate: %s", s.cfg.Name, link)
			continue
		}

		listings = append(listings, models.RawListing{
			Marketplace: s.cfg.Name,
			ItemName:    name,
			Price:       price,
			Currency:    currency,
			URL:         link,
			ObservedAt:  now,
		})
	}
	return listings
}

func (s *Scraper) synthetic(item, note string) models.RawListing {
	return models.RawListing{
		Marketplace: s.cfg.Name,
		ItemName:    item,
		Price:       fallbackPrice,
		Currency:    models.ReferenceCurrency,
		URL:         s.marketURL(item),
		ObservedAt:  s.cfg.Now(),
		Note:        note,
	}
}

func (s *Scraper) marketURL(item string) string {
	return s.cfg.BaseURL + "/market?search=" + url.QueryEscape(item)
}

// scrape opens the market search page in a fresh headless browser and runs
// the card extraction script.
func (s *Scraper) scrape(ctx context.Context, item string) ([]card, error) {
	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.cfg.Logger.Debug("[%s] using browser binary: %q", s.cfg.Name, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(userAgent),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var cards []card
	err := s.cfg.Retry.Do(ctx, s.cfg.Name+"-market-page", func(ctx context.Context) error {
		if err := s.cfg.Throttle.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrPermanent, err)
		}

		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, s.cfg.PageTimeout)
		defer cancelTimeout()

		err := chromedp.Run(tabCtx,
			chromedp.Navigate(s.marketURL(item)),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(extractCardsJS, &cards),
		)
		if err != nil {
			return fmt.Errorf("chromedp market page: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cfg.Logger.Debug("[%s] page returned %d cards", s.cfg.Name, len(cards))
	return cards, nil
}

const extractCardsJS = `
(function() {
	var results = [];
	var cardSelectors = ['.ItemPreview', '.item', '[class*="CatalogItem"]', '[class*="market"]'];
	var cards = [];
	for (var si = 0; si < cardSelectors.length; si++) {
		cards = document.querySelectorAll(cardSelectors[si]);
		if (cards.length > 0) break;
	}

	for (var i = 0; i < cards.length; i++) {
		var card = cards[i];
		var nameEl = card.querySelector('.ItemPreview-itemName') ||
		             card.querySelector('.itemName') ||
		             card.querySelector('[class*="name"]');
		var priceEl = card.querySelector('.ItemPreview-price') ||
		              card.querySelector('.price') ||
		              card.querySelector('[class*="price"]');
		var linkEl = card.querySelector('a[href*="/item/"]') || card.closest('a[href*="/item/"]');

		var name = nameEl ? nameEl.innerText.trim() : '';
		var price = priceEl ? priceEl.innerText.trim().split('\n')[0] : '';
		if (!name || !price) continue;

		results.push({name: name, price: price, url: linkEl ? linkEl.href : ''});
	}
	return results;
})()
`

// findChromeBinary locates a Chrome/Chromium binary, preferring configured.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
