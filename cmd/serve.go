package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"price-aggregator/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP price API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.cache.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.cache.Stop(stopCtx); err != nil {
			logger.Warn("[app] cache sweeper did not stop: %v", err)
		}
	}()

	addr := cfg.HTTPAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	logger.Info("=== pricewatch starting ===")
	logger.Info("Config: cache ttl %s | max entries %d | connector timeout %s | batch %d/%d | single-flight %t",
		cfg.CacheTTL, cfg.CacheMaxEntries, cfg.ConnectorTimeout, cfg.BatchMaxItems, cfg.BatchConcurrency, cfg.SingleFlight)

	srv := api.NewServer(addr, api.Deps{
		Prices:   a.prices,
		Registry: a.registry,
		Store:    a.store,
		Factory:  a.connector,
		Logger:   logger,
	})
	return srv.Run(ctx)
}
