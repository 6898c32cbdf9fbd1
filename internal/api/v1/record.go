package v1

import (
	"fmt"
	"time"
)

// Dataset names recognized by the write sink and the retention sweeper.
const (
	DatasetPageViews     = "pageviews"
	DatasetSessions      = "sessions"
	DatasetSystemMetrics = "system_metrics"
)

// PageView is the atomic traffic telemetry record. It is append-only: once
// accepted by the ingest buffer it is never mutated, and ownership transfers
// to the write sink on flush.
type PageView struct {
	// ID is assigned by the server on ingest (never by the client).
	ID string `json:"id"`

	// SessionKey is the HMAC of the visitor session identifier. The raw
	// identifier never reaches storage.
	SessionKey string `json:"session_key"`

	// Path is the page path that was viewed, e.g. "/docs/getting-started".
	Path string `json:"path"`

	// IP is the pseudonymized client address (last octet / host bits zeroed).
	IP string `json:"ip"`

	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`

	// TimeOnPage is seconds spent on the previous page, reported by the
	// client beacon. Zero means not reported.
	TimeOnPage int `json:"time_on_page,omitempty"`

	// OccurredAt is the client-side view timestamp.
	OccurredAt time.Time `json:"occurred_at"`

	// IngestedAt is set by the ingestion service on receipt.
	IngestedAt time.Time `json:"ingested_at"`
}

// Validate ensures the record carries the fields the sink schema requires.
// PII fields are checked for presence only; their transformation is the
// ingestion service's responsibility.
func (p *PageView) Validate() error {
	if p.SessionKey == "" {
		return fmt.Errorf("session_key is required")
	}
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	if p.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// SystemMetric is a host-level gauge sample (CPU, memory, request latency).
type SystemMetric struct {
	ID         string    `json:"id"`
	Host       string    `json:"host"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	OccurredAt time.Time `json:"occurred_at"`
	IngestedAt time.Time `json:"ingested_at"`
}

func (m *SystemMetric) Validate() error {
	if m.Host == "" {
		return fmt.Errorf("host is required")
	}
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}
