package api

import (
	"github.com/intelwatch/ttpmon/pkg/collector"
	"github.com/intelwatch/ttpmon/pkg/reconcile"
)

// HealthCheck is one named component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// ScanResponse is returned by POST /api/v1/actors/:id/scan.
type ScanResponse struct {
	Status  string            `json:"status"`
	ActorID int64             `json:"actor_id"`
	JobID   string            `json:"job_id"`
	Result  reconcile.Outcome `json:"result"`
}

// CollectorRunResponse is returned by POST /api/v1/collector/run.
type CollectorRunResponse struct {
	Status  string             `json:"status"`
	JobID   string             `json:"job_id"`
	Summary *collector.Summary `json:"summary"`
}

// MitreSyncResponse is returned by POST /api/v1/mitre/sync.
type MitreSyncResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
}
