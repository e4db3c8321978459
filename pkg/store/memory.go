package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
)

// MemoryStore keeps everything in process memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu           sync.RWMutex
	integrations map[int64]*integration.Integration
	mappings     map[int64][]integration.FieldMapping
	history      map[string]*integration.RunHistoryRecord
	order        []string
	nextID       int64
	notifier     *integration.Notifier
	now          func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store publishing deletions through n.
// A nil notifier disables deletion events.
func NewMemoryStore(n *integration.Notifier) *MemoryStore {
	return &MemoryStore{
		integrations: make(map[int64]*integration.Integration),
		mappings:     make(map[int64][]integration.FieldMapping),
		history:      make(map[string]*integration.RunHistoryRecord),
		nextID:       1,
		notifier:     n,
		now:          time.Now,
	}
}

// CreateIntegration stores a copy of in, assigning the next id when ID is 0
func (s *MemoryStore) CreateIntegration(_ context.Context, in *integration.Integration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *in
	if stored.ID == 0 {
		stored.ID = s.nextID
	}
	if _, exists := s.integrations[stored.ID]; exists {
		return 0, errors.Newf(errors.ErrorTypeValidation, "integration %d already exists", stored.ID)
	}
	if stored.ID >= s.nextID {
		s.nextID = stored.ID + 1
	}
	s.integrations[stored.ID] = &stored
	return stored.ID, nil
}

// GetIntegration returns a copy of the integration, or nil when absent
func (s *MemoryStore) GetIntegration(_ context.Context, id int64) (*integration.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.integrations[id]
	if !ok {
		return nil, nil
	}
	out := *in
	return &out, nil
}

// ListIntegrations returns copies of every integration ordered by id
func (s *MemoryStore) ListIntegrations(_ context.Context) ([]*integration.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.MapToSlice(s.integrations, func(_ int64, in *integration.Integration) *integration.Integration {
		c := *in
		return &c
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetFieldMappings replaces the integration's mappings, keeping their order
func (s *MemoryStore) SetFieldMappings(_ context.Context, id int64, mappings []integration.FieldMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.integrations[id]; !ok {
		return errors.NotFound("integration %d not found", id)
	}
	s.mappings[id] = append([]integration.FieldMapping(nil), mappings...)
	return nil
}

// GetFieldMappings returns a copy of the integration's mappings
func (s *MemoryStore) GetFieldMappings(_ context.Context, id int64) ([]integration.FieldMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]integration.FieldMapping(nil), s.mappings[id]...), nil
}

// DeleteIntegration removes the integration and its mappings, then
// publishes the deletion
func (s *MemoryStore) DeleteIntegration(_ context.Context, id int64) error {
	s.mu.Lock()
	if _, ok := s.integrations[id]; !ok {
		s.mu.Unlock()
		return errors.NotFound("integration %d not found", id)
	}
	delete(s.integrations, id)
	delete(s.mappings, id)
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.PublishDeleted(id)
	}
	return nil
}

// TouchIntegration stamps the last run time and health
func (s *MemoryStore) TouchIntegration(_ context.Context, id int64, lastRunAt time.Time, healthy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.integrations[id]
	if !ok {
		return errors.NotFound("integration %d not found", id)
	}
	at := lastRunAt
	in.LastRunAt = &at
	in.Healthy = &healthy
	return nil
}

// CreateHistoryRecord starts a history record and returns its uuid
func (s *MemoryStore) CreateHistoryRecord(_ context.Context, integrationID int64, status integration.RunStatus) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &integration.RunHistoryRecord{
		ID:            uuid.NewString(),
		IntegrationID: integrationID,
		Status:        status,
		StartTime:     s.now().UTC(),
	}
	s.history[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.ID, nil
}

// UpdateHistoryRecord finalizes a running record. Finalized records are
// never updated again.
func (s *MemoryStore) UpdateHistoryRecord(_ context.Context, integrationID int64, historyID string, update integration.HistoryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.history[historyID]
	if !ok || rec.IntegrationID != integrationID {
		return errors.NotFound("history record %s not found for integration %d", historyID, integrationID)
	}
	if rec.Status != integration.StatusRunning {
		return errors.Newf(errors.ErrorTypeValidation, "history record %s is already %s", historyID, rec.Status)
	}
	end := s.now().UTC()
	rec.Status = update.Status
	rec.EndTime = &end
	rec.RecordsProcessed = update.RecordsProcessed
	rec.Error = update.Error
	return nil
}

// History returns the integration's records in creation order
func (s *MemoryStore) History(_ context.Context, id int64) ([]integration.RunHistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []integration.RunHistoryRecord
	for _, hid := range s.order {
		if rec := s.history[hid]; rec.IntegrationID == id {
			out = append(out, *rec)
		}
	}
	return out, nil
}
