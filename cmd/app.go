package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"price-aggregator/cache"
	"price-aggregator/config"
	"price-aggregator/models"
	"price-aggregator/scraper"
	"price-aggregator/services"
	"price-aggregator/storage"
	"price-aggregator/utils"
)

const storeTimeout = 10 * time.Second

// app holds the wired services shared by the subcommands.
type app struct {
	cache    *cache.Cache
	registry *services.Registry
	prices   *services.PriceService
	store    storage.MarketplaceStore
	deps     scraper.Deps
}

func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*app, error) {
	a := &app{
		registry: services.NewRegistry(),
		deps: scraper.Deps{
			Client:           &http.Client{Timeout: cfg.ConnectorTimeout},
			Logger:           logger,
			MaxRetries:       cfg.MaxRetries,
			RetryDelay:       time.Second,
			RateLimit:        cfg.RateLimit(),
			ChromeBin:        cfg.ChromeBin,
			SkinportFallback: cfg.SkinportFallback,
		},
	}

	if err := scraper.RegisterAll(a.registry, cfg.Marketplaces, a.deps); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store
	if store != nil {
		if err := a.registerStored(ctx, logger); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	a.cache = cache.New(cfg.CacheConfig(),
		cache.WithLogger(logger),
		cache.WithObserver(cache.LogObserver{Logger: logger}),
	)

	agg := services.NewAggregator(services.NewScorer(services.WithReputations(a.registry)), cfg.ConnectorTimeout, logger)
	a.prices = services.NewPriceService(agg, a.cache, a.registry,
		services.WithSingleFlight(cfg.SingleFlight),
		services.WithBatchLimits(cfg.BatchMaxItems, cfg.BatchConcurrency),
		services.WithServiceLogger(logger),
	)

	logger.Info("[app] %d marketplaces registered: %v", len(a.registry.Names()), a.registry.Names())
	return a, nil
}

// openStore returns the configured registry store, or nil for BackendNone.
func openStore(ctx context.Context, cfg *config.Config) (storage.MarketplaceStore, error) {
	switch cfg.RegistryBackend {
	case config.BackendPostgres:
		return storage.NewPostgresStore(ctx, cfg.DSN())
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return storage.NewRedisStore(client, cfg.RedisRegistryKey), nil
	}
	return nil, nil
}

// registerStored adds marketplaces saved through the API in earlier runs.
// Definitions already present from configuration win over stored ones.
func (a *app) registerStored(ctx context.Context, logger *utils.Logger) error {
	loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	defs, err := a.store.LoadAll(loadCtx)
	if err != nil {
		return fmt.Errorf("load stored marketplaces: %w", err)
	}
	for _, def := range defs {
		if err := a.registerDefinition(def); err != nil {
			if errors.Is(err, services.ErrConnectorExists) {
				logger.Debug("[app] stored marketplace %s shadowed by configuration", def.Name)
				continue
			}
			logger.Warn("[app] skipping stored marketplace %s: %v", def.Name, err)
		}
	}
	return nil
}

func (a *app) registerDefinition(def models.Marketplace) error {
	conn, err := a.connector(def)
	if err != nil {
		return err
	}
	def.Normalize()
	return a.registry.RegisterMarketplace(conn, def)
}

func (a *app) connector(def models.Marketplace) (services.Connector, error) {
	return scraper.New(def, a.deps)
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
