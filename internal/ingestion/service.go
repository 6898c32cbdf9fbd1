package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/veldt-lab/veldt/internal/ingest"
	"github.com/veldt-lab/veldt/internal/pii"
)

type Service struct {
	buffer           *ingest.Buffer
	hasher           *pii.Hasher
	codec            *pii.Codec
	maxBodySizeBytes int
}

// NewService builds the ingestion front end. The codec may be nil under the
// development posture; the hasher and buffer are always required.
func NewService(buffer *ingest.Buffer, hasher *pii.Hasher, codec *pii.Codec, maxBodySizeMB int) *Service {
	if buffer == nil {
		panic("ingestion: buffer must not be nil")
	}
	if hasher == nil {
		panic("ingestion: hasher must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		buffer:           buffer,
		hasher:           hasher,
		codec:            codec,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/collect", s.CollectHandler)
	r.POST("/v1/metrics", s.MetricsHandler)
	r.GET("/v1/ingest/stats", s.StatsHandler)
}
