// Package api exposes the price service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"price-aggregator/models"
	"price-aggregator/services"
	"price-aggregator/storage"
	"price-aggregator/utils"
)

const shutdownTimeout = 5 * time.Second

// ConnectorFactory turns a validated definition into a live connector.
type ConnectorFactory func(def models.Marketplace) (services.Connector, error)

// Deps are the collaborators the handlers need. Store is optional.
type Deps struct {
	Prices   *services.PriceService
	Registry *services.Registry
	Store    storage.MarketplaceStore
	Factory  ConnectorFactory
	Logger   *utils.Logger
}

// Server hosts the Gin router for the price API.
type Server struct {
	addr       string
	deps       Deps
	router     *gin.Engine
	started    time.Time
	httpServer *http.Server
}

// NewServer builds the router. Nothing listens until Run is called.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = utils.NewNopLogger()
	}
	s := &Server{addr: addr, deps: deps, started: time.Now()}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server
// fails. Cancellation triggers a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.deps.Logger.Info("[http] listening on %s", s.addr)

	select {
	case <-ctx.Done():
		s.deps.Logger.Info("[http] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recovery(s.deps.Logger), requestID(), requestLogger(s.deps.Logger))

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.GET("/prices", s.handleGetPrices)
		api.GET("/prices/export", s.handleExportPrices)
		api.POST("/prices/batch", s.handleBatchPrices)

		api.GET("/cache/stats", s.handleCacheStats)
		api.POST("/cache/stats/reset", s.handleResetCacheStats)
		api.GET("/cache/keys", s.handleCacheKeys)
		api.DELETE("/cache/:item", s.handleDeleteCacheEntry)
		api.DELETE("/cache", s.handleClearCache)

		api.GET("/marketplaces", s.handleListMarketplaces)
		api.POST("/marketplaces", s.handleRegisterMarketplace)
		api.DELETE("/marketplaces/:name", s.handleUnregisterMarketplace)
	}
	return router
}
