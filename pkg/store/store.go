// Package store provides the configuration providers the runner reads
// integrations and field mappings from and records run history into.
package store

import (
	"context"
	"time"

	"github.com/ajitpratap0/relay/pkg/integration"
)

// Store is a Provider that also manages the integrations it serves
type Store interface {
	integration.Provider

	// CreateIntegration stores in. A zero ID is assigned the next free id.
	CreateIntegration(ctx context.Context, in *integration.Integration) (int64, error)
	// SetFieldMappings replaces the mappings of an integration, keeping their order
	SetFieldMappings(ctx context.Context, id int64, mappings []integration.FieldMapping) error
	ListIntegrations(ctx context.Context) ([]*integration.Integration, error)
	// DeleteIntegration removes an integration and its mappings, then
	// notifies deletion subscribers
	DeleteIntegration(ctx context.Context, id int64) error
	// History returns the run history of an integration, oldest first
	History(ctx context.Context, id int64) ([]integration.RunHistoryRecord, error)
}

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
