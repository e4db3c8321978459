package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/table"
)

// IntegrationTest skips t in short mode
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RecordingProvider wraps a provider and counts the history calls made
// through it
type RecordingProvider struct {
	integration.Provider

	mu      sync.Mutex
	created int
	updates []integration.HistoryUpdate
	touches []bool
}

// NewRecordingProvider wraps p
func NewRecordingProvider(p integration.Provider) *RecordingProvider {
	return &RecordingProvider{Provider: p}
}

func (p *RecordingProvider) CreateHistoryRecord(ctx context.Context, id int64, status integration.RunStatus) (string, error) {
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return p.Provider.CreateHistoryRecord(ctx, id, status)
}

func (p *RecordingProvider) UpdateHistoryRecord(ctx context.Context, id int64, historyID string, update integration.HistoryUpdate) error {
	p.mu.Lock()
	p.updates = append(p.updates, update)
	p.mu.Unlock()
	return p.Provider.UpdateHistoryRecord(ctx, id, historyID, update)
}

func (p *RecordingProvider) TouchIntegration(ctx context.Context, id int64, at time.Time, healthy bool) error {
	p.mu.Lock()
	p.touches = append(p.touches, healthy)
	p.mu.Unlock()
	return p.Provider.TouchIntegration(ctx, id, at, healthy)
}

// Created returns the number of history records created
func (p *RecordingProvider) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Updates returns the history updates made, in order
func (p *RecordingProvider) Updates() []integration.HistoryUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]integration.HistoryUpdate(nil), p.updates...)
}

// Touches returns the health flags integrations were stamped with
func (p *RecordingProvider) Touches() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.touches...)
}

// FakeAdapter is an in-memory adapter whose capabilities are chosen by the
// test. As a source it returns Payload (or Err); as a destination it
// records what it was given.
type FakeAdapter struct {
	Source      adapter.Capability
	Destination adapter.Capability
	Payload     interface{}
	Err         error
	// FailRecord makes the per-record destinations reject a record
	FailRecord func(rec map[string]interface{}) error
	// Block, when set, is waited on by every source read
	Block chan struct{}

	mu      sync.Mutex
	written []WrittenTable
	posted  []interface{}
	created []map[string]interface{}
	closed  int
}

// WrittenTable is one WriteTable call
type WrittenTable struct {
	Frame *table.Frame
	Path  string
}

var (
	_ adapter.BlobReader    = (*FakeAdapter)(nil)
	_ adapter.BlobWriter    = (*FakeAdapter)(nil)
	_ adapter.Getter        = (*FakeAdapter)(nil)
	_ adapter.Poster        = (*FakeAdapter)(nil)
	_ adapter.RecordQuerier = (*FakeAdapter)(nil)
	_ adapter.RecordCreator = (*FakeAdapter)(nil)
)

func (a *FakeAdapter) Kind() string                              { return "fake" }
func (a *FakeAdapter) SourceCapability() adapter.Capability      { return a.Source }
func (a *FakeAdapter) DestinationCapability() adapter.Capability { return a.Destination }

func (a *FakeAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed++
	return nil
}

func (a *FakeAdapter) read(ctx context.Context) (interface{}, error) {
	if a.Block != nil {
		select {
		case <-a.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.Payload, a.Err
}

func (a *FakeAdapter) ReadTable(ctx context.Context) (*table.Frame, error) {
	v, err := a.read(ctx)
	if err != nil {
		return nil, err
	}
	f, _ := v.(*table.Frame)
	return f, nil
}

func (a *FakeAdapter) Get(ctx context.Context) (interface{}, error) {
	return a.read(ctx)
}

func (a *FakeAdapter) QueryRecords(ctx context.Context) ([]map[string]interface{}, error) {
	v, err := a.read(ctx)
	if err != nil {
		return nil, err
	}
	recs, _ := v.([]map[string]interface{})
	return recs, nil
}

func (a *FakeAdapter) WriteTable(_ context.Context, frame *table.Frame, path string) (string, error) {
	if a.Err != nil {
		return "", a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.written = append(a.written, WrittenTable{Frame: frame, Path: path})
	return path, nil
}

func (a *FakeAdapter) Post(_ context.Context, payload interface{}) error {
	if a.Err != nil {
		return a.Err
	}
	if rec, ok := payload.(map[string]interface{}); ok && a.FailRecord != nil {
		if err := a.FailRecord(rec); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posted = append(a.posted, payload)
	return nil
}

func (a *FakeAdapter) CreateRecord(_ context.Context, rec map[string]interface{}) error {
	if a.FailRecord != nil {
		if err := a.FailRecord(rec); err != nil {
			return err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, rec)
	return nil
}

// Written returns the WriteTable calls
func (a *FakeAdapter) Written() []WrittenTable {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]WrittenTable(nil), a.written...)
}

// Posted returns the Post payloads
func (a *FakeAdapter) Posted() []interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]interface{}(nil), a.posted...)
}

// Created returns the records passed to CreateRecord
func (a *FakeAdapter) Created() []map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]map[string]interface{}(nil), a.created...)
}

// Closed returns how many times Close was called
func (a *FakeAdapter) Closed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Resolver hands out fixed adapters by endpoint name
type Resolver struct {
	Adapters map[string]adapter.Adapter
	Errors   map[string]error
}

// Resolve returns the adapter registered for endpoint
func (r *Resolver) Resolve(_ context.Context, _ integration.Type, endpoint string, _ map[string]interface{}) (adapter.Adapter, error) {
	if err, ok := r.Errors[endpoint]; ok {
		return nil, err
	}
	a, ok := r.Adapters[endpoint]
	if !ok {
		return nil, fmt.Errorf("no adapter for endpoint %q", endpoint)
	}
	return a, nil
}
