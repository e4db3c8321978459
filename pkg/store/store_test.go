package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/tenantpool"
)

// StoreSuite runs the same behaviour checks against every Store
type StoreSuite struct {
	suite.Suite
	newStore func(t *testing.T, n *integration.Notifier) Store
	store    Store
	notifier *integration.Notifier
	ctx      context.Context
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.notifier = integration.NewNotifier()
	s.store = s.newStore(s.T(), s.notifier)
}

func (s *StoreSuite) sample() *integration.Integration {
	return &integration.Integration{
		Name:              "contacts to warehouse",
		Type:              integration.TypeAPI,
		Source:            "crm",
		Destination:       "warehouse",
		SourceConfig:      map[string]interface{}{"endpoint": "contacts", "limit": float64(50)},
		DestinationConfig: map[string]interface{}{"table": "contacts"},
		Schedule:          "Daily @ 2am",
	}
}

func (s *StoreSuite) TestCreateAndGet() {
	id, err := s.store.CreateIntegration(s.ctx, s.sample())
	s.Require().NoError(err)
	s.Equal(int64(1), id)

	got, err := s.store.GetIntegration(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal("contacts to warehouse", got.Name)
	s.Equal(integration.TypeAPI, got.Type)
	s.Equal(map[string]interface{}{"endpoint": "contacts", "limit": float64(50)}, got.SourceConfig)
	s.Equal("Daily @ 2am", got.Schedule)
	s.Nil(got.LastRunAt)
	s.Nil(got.Healthy)

	next, err := s.store.CreateIntegration(s.ctx, s.sample())
	s.Require().NoError(err)
	s.Equal(int64(2), next)

	list, err := s.store.ListIntegrations(s.ctx)
	s.Require().NoError(err)
	s.Len(list, 2)
	s.Equal(int64(1), list[0].ID)
}

func (s *StoreSuite) TestGetMissingIsNil() {
	got, err := s.store.GetIntegration(s.ctx, 99)
	s.NoError(err)
	s.Nil(got)
}

func (s *StoreSuite) TestFieldMappingsKeepOrder() {
	id, err := s.store.CreateIntegration(s.ctx, s.sample())
	s.Require().NoError(err)

	mappings := []integration.FieldMapping{
		{SourceField: "email", DestinationField: "Email", TransformationName: "lowercase", Required: true},
		{SourceField: "first", DestinationField: "Name", TransformationName: "concat",
			TransformParams: map[string]interface{}{"concat_field": "last", "separator": " "}},
		{SourceField: "phone", DestinationField: "Phone"},
	}
	s.Require().NoError(s.store.SetFieldMappings(s.ctx, id, mappings))

	got, err := s.store.GetFieldMappings(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(mappings, got)

	s.Require().NoError(s.store.SetFieldMappings(s.ctx, id, mappings[:1]))
	got, err = s.store.GetFieldMappings(s.ctx, id)
	s.Require().NoError(err)
	s.Len(got, 1)
}

func (s *StoreSuite) TestHistoryFinalizedOnce() {
	id, err := s.store.CreateIntegration(s.ctx, s.sample())
	s.Require().NoError(err)

	hid, err := s.store.CreateHistoryRecord(s.ctx, id, integration.StatusRunning)
	s.Require().NoError(err)
	s.NotEmpty(hid)

	n := 12
	s.Require().NoError(s.store.UpdateHistoryRecord(s.ctx, id, hid, integration.HistoryUpdate{
		Status:           integration.StatusSuccess,
		RecordsProcessed: &n,
	}))

	err = s.store.UpdateHistoryRecord(s.ctx, id, hid, integration.HistoryUpdate{Status: integration.StatusError, Error: "late"})
	s.Error(err)

	history, err := s.store.History(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(integration.StatusSuccess, history[0].Status)
	s.Require().NotNil(history[0].RecordsProcessed)
	s.Equal(12, *history[0].RecordsProcessed)
	s.NotNil(history[0].EndTime)
	s.Empty(history[0].Error)
}

func (s *StoreSuite) TestTouchIntegration() {
	id, err := s.store.CreateIntegration(s.ctx, s.sample())
	s.Require().NoError(err)

	at := time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.TouchIntegration(s.ctx, id, at, false))

	got, err := s.store.GetIntegration(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got.LastRunAt)
	s.True(at.Equal(*got.LastRunAt))
	s.Require().NotNil(got.Healthy)
	s.False(*got.Healthy)
}

func (s *StoreSuite) TestDeletePublishes() {
	id, err := s.store.CreateIntegration(s.ctx, s.sample())
	s.Require().NoError(err)
	s.Require().NoError(s.store.SetFieldMappings(s.ctx, id, []integration.FieldMapping{{SourceField: "a", DestinationField: "b"}}))

	var deleted []int64
	unsubscribe := s.notifier.Subscribe(func(id int64) { deleted = append(deleted, id) })
	defer unsubscribe()

	s.Require().NoError(s.store.DeleteIntegration(s.ctx, id))
	s.Equal([]int64{id}, deleted)

	got, err := s.store.GetIntegration(s.ctx, id)
	s.NoError(err)
	s.Nil(got)
	mappings, err := s.store.GetFieldMappings(s.ctx, id)
	s.NoError(err)
	s.Empty(mappings)

	err = s.store.DeleteIntegration(s.ctx, id)
	s.True(errors.IsType(err, errors.ErrorTypeNotFound))
	s.Len(deleted, 1)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T, n *integration.Notifier) Store {
		return NewMemoryStore(n)
	}})
}

func TestSQLStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func(t *testing.T, n *integration.Notifier) Store {
		cfg := config.Default().Pool
		cfg.DSN = "file:" + filepath.Join(t.TempDir(), "relay_{tenant}.db") + "?_pragma=busy_timeout(5000)"
		pool, err := tenantpool.NewManager(cfg, tenantpool.WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, err)
		t.Cleanup(func() { _ = pool.DisposeAll() })

		st := NewSQLStore(pool, "relay", n)
		require.NoError(t, st.Migrate(context.Background()))
		require.NoError(t, st.Migrate(context.Background()))
		return st
	}})
}
