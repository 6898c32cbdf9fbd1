package ingestion

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "github.com/veldt-lab/veldt/internal/api/v1"
	httperr "github.com/veldt-lab/veldt/internal/core/errors"
	"github.com/veldt-lab/veldt/internal/pii"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
)

// pageViewBeacon is the client-facing collect payload. The raw session
// identifier and client address never leave this handler: both are
// transformed before the record reaches the buffer.
type pageViewBeacon struct {
	SessionID  string    `json:"session_id"`
	Path       string    `json:"path"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Referrer   string    `json:"referrer,omitempty"`
	TimeOnPage int       `json:"time_on_page,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// metricSample is the client-facing system metric payload.
type metricSample struct {
	Host       string    `json:"host"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// CollectHandler accepts a page view beacon. The record is transformed
// (pseudonymized address, hashed session key), stamped, and buffered. The
// response never reflects sink health: buffering is fire-and-forget.
func (s *Service) CollectHandler(c *gin.Context) {
	var beacon pageViewBeacon
	payloadSize, err := s.parseBody(c, &beacon)
	if err != nil {
		writeError(c, err)
		return
	}

	pv := &v1.PageView{
		ID:         uuid.NewString(),
		SessionKey: s.hasher.Hash(beacon.SessionID),
		Path:       beacon.Path,
		IP:         pii.PseudonymizeIP(c.ClientIP()),
		UserAgent:  beacon.UserAgent,
		Referrer:   beacon.Referrer,
		TimeOnPage: beacon.TimeOnPage,
		OccurredAt: beacon.OccurredAt,
		IngestedAt: time.Now().UTC(),
	}
	if beacon.SessionID == "" {
		pv.SessionKey = ""
	}

	if verr := pv.Validate(); verr != nil {
		slog.Warn("[Ingestion] Envelope validation failed", "error", verr, "payload_size", payloadSize)
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    verr.Error(),
		})
		return
	}

	if pv.UserAgent != "" {
		sealed, cerr := s.codec.Encrypt(pv.UserAgent)
		if cerr != nil {
			slog.Error("[Ingestion] Failed to seal user agent", "error", cerr)
			writeError(c, &ingestionError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpInternalError,
				message:    "Failed to process record",
			})
			return
		}
		pv.UserAgent = sealed
	}

	slog.Debug("[Ingestion] Page view accepted",
		"record_id", pv.ID,
		"path", pv.Path,
		"payload_size", payloadSize)

	s.buffer.SubmitPageView(pv)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": pv.ID})
}

// MetricsHandler accepts a system metric sample. Metrics carry no personal
// fields, so no transformation happens beyond stamping.
func (s *Service) MetricsHandler(c *gin.Context) {
	var sample metricSample
	payloadSize, err := s.parseBody(c, &sample)
	if err != nil {
		writeError(c, err)
		return
	}

	m := &v1.SystemMetric{
		ID:         uuid.NewString(),
		Host:       sample.Host,
		Name:       sample.Name,
		Value:      sample.Value,
		OccurredAt: sample.OccurredAt,
		IngestedAt: time.Now().UTC(),
	}

	if verr := m.Validate(); verr != nil {
		slog.Warn("[Ingestion] Metric validation failed", "error", verr, "payload_size", payloadSize)
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    verr.Error(),
		})
		return
	}

	s.buffer.SubmitMetric(m)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "id": m.ID})
}

// StatsHandler exposes the buffer counters for operational visibility.
func (s *Service) StatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.buffer.Stats())
}

// parseBody reads the capped request body and binds it into dst. Returns the
// raw payload size for structured logging upstream.
func (s *Service) parseBody(c *gin.Context, dst interface{}) (int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if err := c.ShouldBindJSON(dst); err != nil {
		slog.Warn("[Ingestion] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return len(bodyBytes), nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
