// Package sqldb queries and inserts records through the tenant connection
// pool, so relational endpoints never hold connections of their own.
package sqldb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/tenantpool"
)

// Kind is the registry kind of the SQL adapter
const Kind = "sql"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Adapter reads with a configured query and writes one row per record
type Adapter struct {
	pool   *tenantpool.Manager
	tenant string
	query  string
	args   []interface{}
	table  string
	logger *zap.Logger
}

// Factory returns a factory bound to pool. Endpoint settings are
// config.SQLSettings; the integration config supplies query and args for
// sources, table for destinations, and may override tenant.
func Factory(pool *tenantpool.Manager) adapter.Factory {
	return func(_ context.Context, spec adapter.Spec) (adapter.Adapter, error) {
		var settings config.SQLSettings
		if err := config.Decode(spec.Settings, &settings); err != nil {
			return nil, err
		}
		return New(pool, settings, spec.Config)
	}
}

// New builds a SQL adapter
func New(pool *tenantpool.Manager, settings config.SQLSettings, cfg map[string]interface{}) (*Adapter, error) {
	if pool == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "sql adapter requires a connection pool")
	}
	spec := adapter.Spec{Config: cfg}

	a := &Adapter{
		pool:   pool,
		tenant: settings.Tenant,
		query:  spec.String("query"),
		table:  spec.String("table"),
		logger: logger.Named("sql_adapter"),
	}
	if t := spec.String("tenant"); t != "" {
		a.tenant = t
	}
	if raw, ok := cfg["args"]; ok {
		a.args = cast.ToSlice(raw)
	}
	if a.table != "" && !identifier.MatchString(a.table) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid table name %q", a.table)
	}
	return a, nil
}

func (a *Adapter) Kind() string                              { return Kind }
func (a *Adapter) SourceCapability() adapter.Capability      { return adapter.RecordQuery }
func (a *Adapter) DestinationCapability() adapter.Capability { return adapter.RecordCreate }

// Close is a no-op; connections belong to the pool
func (a *Adapter) Close() error { return nil }

// QueryRecords runs the configured query in a read scope
func (a *Adapter) QueryRecords(ctx context.Context) ([]map[string]interface{}, error) {
	if a.query == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sql source requires a query")
	}

	var records []map[string]interface{}
	err := a.pool.ReadScope(ctx, a.tenant, func(s *tenantpool.Session) error {
		rows, err := s.Query(ctx, a.pool.Rebind(a.query), a.args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			values := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return err
			}
			rec := make(map[string]interface{}, len(cols))
			for i, c := range cols {
				if b, ok := values[i].([]byte); ok {
					rec[c] = string(b)
				} else {
					rec[c] = values[i]
				}
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Extraction(err, "sql query failed").WithDetail("tenant", a.tenant)
	}

	a.logger.Debug("sql query returned", zap.String("tenant", a.tenant), zap.Int("rows", len(records)))
	return records, nil
}

// CreateRecord inserts record as one row of the configured table
func (a *Adapter) CreateRecord(ctx context.Context, record map[string]interface{}) error {
	if a.table == "" {
		return errors.New(errors.ErrorTypeConfig, "sql destination requires a table")
	}
	if len(record) == 0 {
		return errors.Load(nil, "cannot insert an empty record")
	}

	cols := lo.Keys(record)
	sort.Strings(cols)
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		if !identifier.MatchString(c) {
			return errors.Load(nil, fmt.Sprintf("invalid column name %q", c))
		}
		v, err := bindable(record[c])
		if err != nil {
			return errors.Load(err, fmt.Sprintf("cannot encode column %q", c))
		}
		args[i] = v
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		a.table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	err := a.pool.SessionScope(ctx, a.tenant, func(s *tenantpool.Session) error {
		_, err := s.Exec(ctx, a.pool.Rebind(query), args...)
		return err
	})
	if err != nil {
		return errors.Load(err, "sql insert failed").WithDetail("table", a.table)
	}
	return nil
}

// bindable converts nested values, which drivers cannot bind, to JSON text
func bindable(v interface{}) (interface{}, error) {
	switch v.(type) {
	case map[string]interface{}, []interface{}, []map[string]interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}
