package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"price-aggregator/models"
	"price-aggregator/services"
	"price-aggregator/storage"
)

const storeTimeout = 5 * time.Second

type priceResponse struct {
	Cached bool `json:"cached"`
	Stale  bool `json:"stale"`
	*models.AggregationReport
}

type listingView struct {
	sort     services.SortOrder
	min, max *decimal.Decimal
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func (s *Server) handleGetPrices(c *gin.Context) {
	view, err := parseListingView(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := s.deps.Prices.Lookup(c.Request.Context(), c.Query("item"))
	if errors.Is(err, services.ErrEmptyQuery) {
		badRequest(c, "item query parameter is required")
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, priceResponse{
		Cached:            res.Cached,
		Stale:             res.Stale,
		AggregationReport: view.apply(res.Report),
	})
}

func parseListingView(c *gin.Context) (listingView, error) {
	var v listingView

	if raw := c.Query("sort"); raw != "" {
		order, err := services.ParseSortOrder(raw)
		if err != nil {
			return v, err
		}
		v.sort = order
	}

	for _, p := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"min_price", &v.min}, {"max_price", &v.max}} {
		raw := strings.TrimSpace(c.Query(p.name))
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return v, fmt.Errorf("%s must be a non-negative number", p.name)
		}
		*p.dst = &d
	}

	if v.min != nil && v.max != nil && v.min.GreaterThan(*v.max) {
		return v, errors.New("min_price must not exceed max_price")
	}
	return v, nil
}

// apply returns report with its listings filtered and sorted. The cached
// report is shared, so any change happens on a shallow copy.
func (v listingView) apply(report *models.AggregationReport) *models.AggregationReport {
	if report == nil || (v.sort == "" && v.min == nil && v.max == nil) {
		return report
	}

	out := *report
	if v.min != nil || v.max != nil {
		lo, hi := decimal.Zero, decimal.New(1, 18)
		if v.min != nil {
			lo = *v.min
		}
		if v.max != nil {
			hi = *v.max
		}
		out.Listings = services.FilterByPriceRange(out.Listings, lo, hi)
	}
	if v.sort != "" {
		out.Listings = services.SortListings(out.Listings, v.sort)
	}
	return &out
}

func (s *Server) handleExportPrices(c *gin.Context) {
	res, err := s.deps.Prices.Lookup(c.Request.Context(), c.Query("item"))
	if errors.Is(err, services.ErrEmptyQuery) {
		badRequest(c, "item query parameter is required")
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, fileSafe(res.Report.Query)))
	c.Status(http.StatusOK)

	w, err := storage.NewCSVStreamWriter(c.Writer)
	if err == nil {
		err = w.WriteReport(res.Report)
	}
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		s.deps.Logger.Error("[http] csv export for %q: %v", res.Report.Query, err)
	}
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

func (s *Server) handleBatchPrices(c *gin.Context) {
	var req struct {
		Items []string `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: expected {\"items\": [...]}")
		return
	}

	results, err := s.deps.Prices.AggregateMany(c.Request.Context(), req.Items)
	switch {
	case errors.Is(err, services.ErrBatchEmpty), errors.Is(err, services.ErrBatchTooLarge):
		badRequest(c, err.Error())
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (s *Server) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Prices.Cache().Stats())
}

func (s *Server) handleResetCacheStats(c *gin.Context) {
	s.deps.Prices.Cache().ResetStats()
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func (s *Server) handleCacheKeys(c *gin.Context) {
	keys := s.deps.Prices.Cache().Keys()
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys)})
}

func (s *Server) handleDeleteCacheEntry(c *gin.Context) {
	item := c.Param("item")
	c.JSON(http.StatusOK, gin.H{"item": item, "deleted": s.deps.Prices.Cache().Delete(item)})
}

func (s *Server) handleClearCache(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": s.deps.Prices.Cache().Clear()})
}

func (s *Server) handleListMarketplaces(c *gin.Context) {
	entries := s.deps.Registry.Entries()
	c.JSON(http.StatusOK, gin.H{"marketplaces": entries, "count": len(entries)})
}

func (s *Server) handleRegisterMarketplace(c *gin.Context) {
	var def models.Marketplace
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}
	if s.deps.Factory == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "runtime registration is disabled"})
		return
	}

	conn, err := s.deps.Factory(def)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.deps.Registry.RegisterMarketplace(conn, def); err != nil {
		if errors.Is(err, services.ErrConnectorExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		badRequest(c, err.Error())
		return
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		if err := s.deps.Store.Save(ctx, def); err != nil {
			s.deps.Registry.Unregister(def.Name)
			s.deps.Logger.Error("[http] persist marketplace %s: %v", def.Name, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist marketplace"})
			return
		}
	}

	s.deps.Logger.Info("[http] registered marketplace %s (%s)", def.Name, def.Kind)
	c.JSON(http.StatusCreated, def)
}

func (s *Server) handleUnregisterMarketplace(c *gin.Context) {
	name := strings.ToLower(c.Param("name"))
	if !s.deps.Registry.Unregister(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("marketplace %q not found", name)})
		return
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		defer cancel()
		if _, err := s.deps.Store.Delete(ctx, name); err != nil {
			s.deps.Logger.Warn("[http] remove stored marketplace %s: %v", name, err)
		}
	}

	s.deps.Logger.Info("[http] unregistered marketplace %s", name)
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"cache":        s.deps.Prices.Cache().Stats(),
		"marketplaces": s.deps.Registry.Names(),
	})
}
