package sqldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/tenantpool"
)

func newPool(t *testing.T) *tenantpool.Manager {
	t.Helper()
	cfg := config.Default().Pool
	cfg.DSN = "file:" + filepath.Join(t.TempDir(), "relay_{tenant}.db") + "?_pragma=busy_timeout(5000)"
	m, err := tenantpool.NewManager(cfg, tenantpool.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.DisposeAll() })

	err = m.SessionScope(context.Background(), "warehouse", func(s *tenantpool.Session) error {
		if _, err := s.Exec(context.Background(), "CREATE TABLE contacts (id INTEGER, email TEXT, tags TEXT)"); err != nil {
			return err
		}
		_, err := s.Exec(context.Background(), "INSERT INTO contacts (id, email) VALUES (1, 'a@example.com'), (2, 'b@example.com')")
		return err
	})
	require.NoError(t, err)
	return m
}

func TestQueryRecords(t *testing.T) {
	pool := newPool(t)
	a, err := New(pool, config.SQLSettings{Tenant: "warehouse"}, map[string]interface{}{
		"query": "SELECT id, email FROM contacts WHERE id >= ? ORDER BY id",
		"args":  []interface{}{1},
	})
	require.NoError(t, err)

	payload, err := adapter.Extract(context.Background(), a)
	require.NoError(t, err)
	records := payload.([]map[string]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "a@example.com", records[0]["email"])
	assert.EqualValues(t, 2, records[1]["id"])
}

func TestCreateRecord(t *testing.T) {
	pool := newPool(t)
	a, err := New(pool, config.SQLSettings{Tenant: "warehouse"}, map[string]interface{}{"table": "contacts"})
	require.NoError(t, err)
	require.NoError(t, adapter.CheckDestination(a))

	err = a.CreateRecord(context.Background(), map[string]interface{}{
		"id":    3,
		"email": "c@example.com",
		"tags":  []interface{}{"vip"},
	})
	require.NoError(t, err)

	q, err := New(pool, config.SQLSettings{Tenant: "warehouse"}, map[string]interface{}{
		"query": "SELECT tags FROM contacts WHERE id = 3",
	})
	require.NoError(t, err)
	records, err := q.QueryRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, `["vip"]`, records[0]["tags"])
}

func TestCreateRecordRejectsUnsafeNames(t *testing.T) {
	pool := newPool(t)

	_, err := New(pool, config.SQLSettings{}, map[string]interface{}{"table": "contacts; DROP TABLE x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	a, err := New(pool, config.SQLSettings{Tenant: "warehouse"}, map[string]interface{}{"table": "contacts"})
	require.NoError(t, err)
	err = a.CreateRecord(context.Background(), map[string]interface{}{"email) VALUES (1); --": "x"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
}

func TestFailuresAreTyped(t *testing.T) {
	pool := newPool(t)

	a, err := Factory(pool)(context.Background(), adapter.Spec{
		Settings: map[string]interface{}{"tenant": "warehouse"},
		Config:   map[string]interface{}{"query": "SELECT * FROM missing_table"},
	})
	require.NoError(t, err)
	_, err = a.(*Adapter).QueryRecords(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeExtraction))

	b, err := New(pool, config.SQLSettings{Tenant: "warehouse"}, map[string]interface{}{"table": "missing_table"})
	require.NoError(t, err)
	err = b.CreateRecord(context.Background(), map[string]interface{}{"id": 1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))

	_, err = New(nil, config.SQLSettings{}, nil)
	assert.Error(t, err)
}
