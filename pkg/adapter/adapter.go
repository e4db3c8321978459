// Package adapter defines the capabilities through which the runner reads
// from sources and writes to destinations, and the registry that resolves
// an integration endpoint to a configured adapter.
//
// An adapter declares one source capability and one destination capability
// and implements the matching interface. The runner dispatches on the
// declared capability, never on method presence:
//
//	source capability   interface
//	tabular_blob        BlobReader
//	http_get            Getter
//	record_query        RecordQuerier
//
//	destination capability   interface
//	tabular_blob             BlobWriter
//	http_post                Poster
//	record_create            RecordCreator
package adapter

import (
	"context"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/table"
)

// Capability tags how an adapter moves data
type Capability string

const (
	// CapabilityNone means the adapter cannot act in that role
	CapabilityNone Capability = ""
	// TabularBlob reads or writes a whole table as a file-like blob
	TabularBlob Capability = "tabular_blob"
	// HTTPGet fetches a payload with a generic GET
	HTTPGet Capability = "http_get"
	// RecordQuery runs a query returning row objects
	RecordQuery Capability = "record_query"
	// HTTPPost posts records, batched or one by one
	HTTPPost Capability = "http_post"
	// RecordCreate creates one record per call
	RecordCreate Capability = "record_create"
)

// Adapter is a configured connection to one endpoint
type Adapter interface {
	// Kind is the registered adapter kind, e.g. "file" or "http"
	Kind() string
	SourceCapability() Capability
	DestinationCapability() Capability
	Close() error
}

// BlobReader reads a whole table
type BlobReader interface {
	ReadTable(ctx context.Context) (*table.Frame, error)
}

// BlobWriter writes a whole table to path and returns the location written
type BlobWriter interface {
	WriteTable(ctx context.Context, frame *table.Frame, path string) (string, error)
}

// Getter fetches a payload: a list of row objects, or an object nesting
// them under items, records or data
type Getter interface {
	Get(ctx context.Context) (interface{}, error)
}

// Poster sends either a batch ([]map[string]interface{}) or a single record
// (map[string]interface{})
type Poster interface {
	Post(ctx context.Context, payload interface{}) error
}

// RecordQuerier returns row objects
type RecordQuerier interface {
	QueryRecords(ctx context.Context) ([]map[string]interface{}, error)
}

// RecordCreator creates one record
type RecordCreator interface {
	CreateRecord(ctx context.Context, record map[string]interface{}) error
}

// Extract reads from a source according to its declared capability. The
// returned payload is a *table.Frame, a list of records, or whatever the
// Getter returned.
func Extract(ctx context.Context, a Adapter) (interface{}, error) {
	switch c := a.SourceCapability(); c {
	case TabularBlob:
		r, ok := a.(BlobReader)
		if !ok {
			return nil, missing(a, c)
		}
		return r.ReadTable(ctx)
	case HTTPGet:
		g, ok := a.(Getter)
		if !ok {
			return nil, missing(a, c)
		}
		return g.Get(ctx)
	case RecordQuery:
		q, ok := a.(RecordQuerier)
		if !ok {
			return nil, missing(a, c)
		}
		return q.QueryRecords(ctx)
	default:
		return nil, errors.Newf(errors.ErrorTypeCapability, "adapter %q cannot act as a source", a.Kind())
	}
}

// missing reports a declared capability whose interface is not implemented
func missing(a Adapter, c Capability) error {
	return errors.Newf(errors.ErrorTypeCapability, "adapter %q declares %s but does not implement it", a.Kind(), c)
}

// CheckDestination verifies that the declared destination capability is
// implemented
func CheckDestination(a Adapter) error {
	var ok bool
	switch c := a.DestinationCapability(); c {
	case TabularBlob:
		_, ok = a.(BlobWriter)
	case HTTPPost:
		_, ok = a.(Poster)
	case RecordCreate:
		_, ok = a.(RecordCreator)
	default:
		return errors.Newf(errors.ErrorTypeCapability, "adapter %q cannot act as a destination", a.Kind())
	}
	if !ok {
		return missing(a, a.DestinationCapability())
	}
	return nil
}
