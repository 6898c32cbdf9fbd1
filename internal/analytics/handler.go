package analytics

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/veldt-lab/veldt/internal/core/errors"
	"github.com/veldt-lab/veldt/internal/core/storage"
	"github.com/veldt-lab/veldt/internal/querycache"
)

// CacheStatusHeader reports how a stats read was served (HIT, MISS, BYPASS).
const CacheStatusHeader = "X-Cache"

// RegisterRoutes registers the analytics read routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stats/:query", s.HandleStats)
	r.GET("/v1/cache/stats", s.HandleCacheStats)
}

// HandleStats handles GET /v1/stats/:query
// Query parameters: from, to, granularity, limit, metric
func (s *Service) HandleStats(c *gin.Context) {
	var uri struct {
		Query string `uri:"query" binding:"required"`
	}
	var query struct {
		From        time.Time `form:"from" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		To          time.Time `form:"to" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
		Granularity string    `form:"granularity"`
		Limit       string    `form:"limit"`
		Metric      string    `form:"metric"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	req := StatsRequest{
		Query:       uri.Query,
		From:        query.From,
		To:          query.To,
		Granularity: query.Granularity,
		Limit:       query.Limit,
		Metric:      query.Metric,
	}

	resp, status, err := s.Query(c.Request.Context(), req, querycache.ShouldBypass(c.Request))
	if err != nil {
		if errors.Is(err, ErrInvalidQuery) || errors.Is(err, storage.ErrUnknownQuery) {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "Invalid stats query",
				Details:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query stats",
			Details:   err.Error(),
		})
		return
	}

	c.Header(CacheStatusHeader, string(status))
	c.JSON(http.StatusOK, resp)
}

// HandleCacheStats handles GET /v1/cache/stats
func (s *Service) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.CacheStats())
}
