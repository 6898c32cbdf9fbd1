package retention

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes exposes the on-demand operator surface. Callers are
// expected to mount these behind the operator auth middleware.
func (s *Sweeper) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/admin/retention/sweep", s.HandleSweep)
	r.GET("/v1/admin/retention/policies", s.HandlePolicies)
}

// HandleSweep handles POST /v1/admin/retention/sweep. An overlapping sweep
// reports Skipped rather than queueing or failing.
func (s *Sweeper) HandleSweep(c *gin.Context) {
	report := s.EnforceRetention(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

// HandlePolicies handles GET /v1/admin/retention/policies.
func (s *Sweeper) HandlePolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"max_age_days": s.Periods()})
}
