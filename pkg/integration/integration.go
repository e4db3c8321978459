// Package integration defines the configuration entities the engine reads
// and the provider interface through which it reads them and records runs.
package integration

import (
	"context"
	"time"
)

// Type classifies how an integration talks to its endpoints
type Type string

const (
	TypeAPI      Type = "api"
	TypeFile     Type = "file"
	TypeDatabase Type = "database"
)

// Integration is a configured source to destination flow
type Integration struct {
	ID                int64                  `json:"id"`
	Name              string                 `json:"name"`
	Type              Type                   `json:"type"`
	Source            string                 `json:"source"`
	Destination       string                 `json:"destination"`
	SourceConfig      map[string]interface{} `json:"source_config"`
	DestinationConfig map[string]interface{} `json:"destination_config"`
	Schedule          string                 `json:"schedule,omitempty"`
	LastRunAt         *time.Time             `json:"last_run_at,omitempty"`
	Healthy           *bool                  `json:"healthy,omitempty"`
}

// FieldMapping translates one source column to one destination column
type FieldMapping struct {
	SourceField        string                 `json:"source_field"`
	DestinationField   string                 `json:"destination_field"`
	TransformationName string                 `json:"transformation,omitempty"`
	Required           bool                   `json:"required"`
	TransformParams    map[string]interface{} `json:"transform_params,omitempty"`
}

// RunStatus is the state of a run history record
type RunStatus string

const (
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusError   RunStatus = "error"
)

// RunHistoryRecord is one run attempt. It is created as running and
// finalized exactly once.
type RunHistoryRecord struct {
	ID               string     `json:"id"`
	IntegrationID    int64      `json:"integration_id"`
	Status           RunStatus  `json:"status"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	RecordsProcessed *int       `json:"records_processed,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// HistoryUpdate finalizes a run history record
type HistoryUpdate struct {
	Status           RunStatus
	RecordsProcessed *int
	Error            string
}

// Provider supplies configuration and persists run history
type Provider interface {
	// GetIntegration returns the integration, or nil when it does not exist
	GetIntegration(ctx context.Context, id int64) (*Integration, error)
	GetFieldMappings(ctx context.Context, id int64) ([]FieldMapping, error)
	CreateHistoryRecord(ctx context.Context, integrationID int64, status RunStatus) (string, error)
	UpdateHistoryRecord(ctx context.Context, integrationID int64, historyID string, update HistoryUpdate) error
	// TouchIntegration stamps the last run time and health of an integration
	TouchIntegration(ctx context.Context, id int64, lastRunAt time.Time, healthy bool) error
}

// RunResult is the outcome of one run
type RunResult struct {
	Status           RunStatus     `json:"status"`
	RecordsProcessed *int          `json:"records_processed,omitempty"`
	HistoryID        string        `json:"history_id,omitempty"`
	Message          string        `json:"message,omitempty"`
	FieldFallbacks   []string      `json:"field_fallbacks,omitempty"`
	MissingFields    []string      `json:"missing_fields,omitempty"`
	LoadFailures     []string      `json:"load_failures,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// OK reports whether the run succeeded
func (r *RunResult) OK() bool {
	return r.Status == StatusSuccess
}
