// Package scraper builds marketplace connectors from their definitions.
package scraper

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"price-aggregator/models"
	"price-aggregator/scraper/httpjson"
	"price-aggregator/scraper/skinport"
	"price-aggregator/scraper/static"
	"price-aggregator/scraper/steam"
	"price-aggregator/services"
	"price-aggregator/utils"
)

var ErrUnknownKind = errors.New("unknown marketplace kind")

// Deps are the shared resources handed to every connector.
type Deps struct {
	Client           *http.Client
	Logger           *utils.Logger
	MaxRetries       int
	RetryDelay       time.Duration
	RateLimit        time.Duration
	ChromeBin        string
	SkinportFallback bool
}

// New validates def and builds the matching connector. Each connector gets
// its own throttle so marketplaces are rate limited independently.
func New(def models.Marketplace, deps Deps) (services.Connector, error) {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	logger = logger.With(utils.Fields{"marketplace": def.Name})

	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	retry := &utils.RetryConfig{
		MaxAttempts: deps.MaxRetries,
		BaseDelay:   deps.RetryDelay,
		Logger:      logger,
	}
	throttle := utils.NewThrottle(deps.RateLimit)

	switch def.Kind {
	case models.KindSteam:
		return steam.New(steam.Config{
			Name:     def.Name,
			Endpoint: def.Endpoint,
			AppID:    def.AppID,
			Currency: def.Currency,
			Client:   client,
			Throttle: throttle,
			Retry:    retry,
			Logger:   logger,
		}), nil

	case models.KindSkinport:
		return skinport.New(skinport.Config{
			Name:      def.Name,
			BaseURL:   def.Endpoint,
			ChromeBin: deps.ChromeBin,
			Fallback:  def.Fallback || deps.SkinportFallback,
			Throttle:  throttle,
			Retry:     retry,
			Logger:    logger,
		}), nil

	case models.KindHTTPJSON:
		return httpjson.New(httpjson.Config{
			Name:     def.Name,
			Endpoint: def.Endpoint,
			Currency: def.Currency,
			Client:   client,
			Throttle: throttle,
			Retry:    retry,
			Logger:   logger,
		})

	case models.KindStatic:
		return static.New(def.Name, def.Price, def.Currency, def.Endpoint), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, def.Kind)
}

// RegisterAll builds a connector for every definition and adds it to reg.
// It stops at the first failure.
func RegisterAll(reg *services.Registry, defs []models.Marketplace, deps Deps) error {
	for _, def := range defs {
		def.Normalize()
		conn, err := New(def, deps)
		if err != nil {
			return fmt.Errorf("scraper: build %s: %w", def.Name, err)
		}
		if err := reg.RegisterMarketplace(conn, def); err != nil {
			return fmt.Errorf("scraper: register %s: %w", def.Name, err)
		}
	}
	return nil
}
