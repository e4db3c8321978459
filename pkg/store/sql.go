package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/tenantpool"
)

// SQLStore keeps integrations, field mappings and run history in a
// database reached through one tenant of the pool manager. Timestamps are
// stored as RFC 3339 text so every supported driver round-trips them alike.
type SQLStore struct {
	pool     *tenantpool.Manager
	tenant   string
	notifier *integration.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store on tenant. A nil notifier disables deletion events.
func NewSQLStore(pool *tenantpool.Manager, tenant string, n *integration.Notifier) *SQLStore {
	return &SQLStore{
		pool:     pool,
		tenant:   tenant,
		notifier: n,
		logger:   logger.Named("sql_store").With(zap.String("tenant", tenant)),
		now:      time.Now,
	}
}

var tables = []struct{ name, body string }{
	{"relay_integrations", `(
	id BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	type VARCHAR(32) NOT NULL,
	source VARCHAR(255) NOT NULL,
	destination VARCHAR(255) NOT NULL,
	source_config TEXT,
	destination_config TEXT,
	schedule VARCHAR(255),
	last_run_at VARCHAR(64),
	healthy SMALLINT
)`},
	{"relay_field_mappings", `(
	integration_id BIGINT NOT NULL,
	ordinal INTEGER NOT NULL,
	source_field VARCHAR(255) NOT NULL,
	destination_field VARCHAR(255) NOT NULL,
	transformation VARCHAR(255),
	required SMALLINT NOT NULL,
	transform_params TEXT,
	PRIMARY KEY (integration_id, ordinal)
)`},
	{"relay_run_history", `(
	id VARCHAR(36) PRIMARY KEY,
	integration_id BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL,
	start_time VARCHAR(64) NOT NULL,
	end_time VARCHAR(64),
	records_processed INTEGER,
	error TEXT
)`},
}

// Migrate creates the store tables when they do not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	driver := s.pool.Config().Driver
	return s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		for _, t := range tables {
			stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s", t.name, t.body)
			if driver == "sqlserver" || driver == "mssql" {
				stmt = fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s %s", t.name, t.name, t.body)
			}
			if _, err := sess.Exec(ctx, stmt); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create table").WithDetail("table", t.name)
			}
		}
		s.logger.Info("store tables ready")
		return nil
	})
}

func (s *SQLStore) q(query string) string {
	return s.pool.Rebind(query)
}

// CreateIntegration inserts in, assigning MAX(id)+1 when ID is 0
func (s *SQLStore) CreateIntegration(ctx context.Context, in *integration.Integration) (int64, error) {
	srcCfg, err := encodeMap(in.SourceConfig)
	if err != nil {
		return 0, err
	}
	dstCfg, err := encodeMap(in.DestinationConfig)
	if err != nil {
		return 0, err
	}

	id := in.ID
	err = s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		if id == 0 {
			if err := sess.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM relay_integrations").Scan(&id); err != nil {
				return err
			}
		}
		var lastRun sql.NullString
		if in.LastRunAt != nil {
			lastRun = sql.NullString{String: formatTime(*in.LastRunAt), Valid: true}
		}
		_, err := sess.Exec(ctx, s.q(`INSERT INTO relay_integrations
			(id, name, type, source, destination, source_config, destination_config, schedule, last_run_at, healthy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			id, in.Name, string(in.Type), in.Source, in.Destination, srcCfg, dstCfg, in.Schedule, lastRun, nullBool(in.Healthy))
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create integration")
	}
	return id, nil
}

const integrationColumns = `id, name, type, source, destination, source_config, destination_config, schedule, last_run_at, healthy`

// GetIntegration returns the integration, or nil when absent
func (s *SQLStore) GetIntegration(ctx context.Context, id int64) (*integration.Integration, error) {
	var found *integration.Integration
	err := s.pool.ReadScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		rows, err := sess.Query(ctx, s.q("SELECT "+integrationColumns+" FROM relay_integrations WHERE id = ?"), id)
		if err != nil {
			return err
		}
		defer rows.Close()
		if rows.Next() {
			if found, err = scanIntegration(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load integration").WithDetail("integration_id", id)
	}
	return found, nil
}

// ListIntegrations returns every integration ordered by id
func (s *SQLStore) ListIntegrations(ctx context.Context) ([]*integration.Integration, error) {
	var out []*integration.Integration
	err := s.pool.ReadScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		rows, err := sess.Query(ctx, "SELECT "+integrationColumns+" FROM relay_integrations ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			in, err := scanIntegration(rows)
			if err != nil {
				return err
			}
			out = append(out, in)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to list integrations")
	}
	return out, nil
}

func scanIntegration(rows *sql.Rows) (*integration.Integration, error) {
	var (
		in                    integration.Integration
		typ                   string
		srcCfg, dstCfg, sched sql.NullString
		lastRun               sql.NullString
		healthy               sql.NullInt64
	)
	if err := rows.Scan(&in.ID, &in.Name, &typ, &in.Source, &in.Destination,
		&srcCfg, &dstCfg, &sched, &lastRun, &healthy); err != nil {
		return nil, err
	}
	in.Type = integration.Type(typ)
	in.Schedule = sched.String

	var err error
	if in.SourceConfig, err = decodeMap(srcCfg); err != nil {
		return nil, err
	}
	if in.DestinationConfig, err = decodeMap(dstCfg); err != nil {
		return nil, err
	}
	if lastRun.Valid && lastRun.String != "" {
		t, err := parseTime(lastRun.String)
		if err != nil {
			return nil, err
		}
		in.LastRunAt = &t
	}
	if healthy.Valid {
		h := healthy.Int64 != 0
		in.Healthy = &h
	}
	return &in, nil
}

// SetFieldMappings replaces the integration's mappings in one transaction
func (s *SQLStore) SetFieldMappings(ctx context.Context, id int64, mappings []integration.FieldMapping) error {
	err := s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		if _, err := sess.Exec(ctx, s.q("DELETE FROM relay_field_mappings WHERE integration_id = ?"), id); err != nil {
			return err
		}
		insert := s.q(`INSERT INTO relay_field_mappings
			(integration_id, ordinal, source_field, destination_field, transformation, required, transform_params)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		for i, m := range mappings {
			params, err := encodeMap(m.TransformParams)
			if err != nil {
				return err
			}
			if _, err := sess.Exec(ctx, insert, id, i, m.SourceField, m.DestinationField,
				m.TransformationName, boolInt(m.Required), params); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to store field mappings").WithDetail("integration_id", id)
	}
	return nil
}

// GetFieldMappings returns the integration's mappings in ordinal order
func (s *SQLStore) GetFieldMappings(ctx context.Context, id int64) ([]integration.FieldMapping, error) {
	var out []integration.FieldMapping
	err := s.pool.ReadScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		rows, err := sess.Query(ctx, s.q(`SELECT source_field, destination_field, transformation, required, transform_params
			FROM relay_field_mappings WHERE integration_id = ? ORDER BY ordinal`), id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				m         integration.FieldMapping
				transform sql.NullString
				params    sql.NullString
				required  int64
			)
			if err := rows.Scan(&m.SourceField, &m.DestinationField, &transform, &required, &params); err != nil {
				return err
			}
			m.TransformationName = transform.String
			m.Required = required != 0
			if m.TransformParams, err = decodeMap(params); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load field mappings").WithDetail("integration_id", id)
	}
	return out, nil
}

// DeleteIntegration removes the integration and its mappings, then
// publishes the deletion. Run history is kept.
func (s *SQLStore) DeleteIntegration(ctx context.Context, id int64) error {
	var deleted int64
	err := s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		if _, err := sess.Exec(ctx, s.q("DELETE FROM relay_field_mappings WHERE integration_id = ?"), id); err != nil {
			return err
		}
		res, err := sess.Exec(ctx, s.q("DELETE FROM relay_integrations WHERE id = ?"), id)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to delete integration").WithDetail("integration_id", id)
	}
	if deleted == 0 {
		return errors.NotFound("integration %d not found", id)
	}

	s.logger.Info("integration deleted", zap.Int64("integration_id", id))
	if s.notifier != nil {
		s.notifier.PublishDeleted(id)
	}
	return nil
}

// TouchIntegration stamps the last run time and health
func (s *SQLStore) TouchIntegration(ctx context.Context, id int64, lastRunAt time.Time, healthy bool) error {
	return s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		_, err := sess.Exec(ctx, s.q("UPDATE relay_integrations SET last_run_at = ?, healthy = ? WHERE id = ?"),
			formatTime(lastRunAt), boolInt(healthy), id)
		return err
	})
}

// CreateHistoryRecord starts a history record and returns its uuid
func (s *SQLStore) CreateHistoryRecord(ctx context.Context, integrationID int64, status integration.RunStatus) (string, error) {
	id := uuid.NewString()
	err := s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		_, err := sess.Exec(ctx, s.q(`INSERT INTO relay_run_history (id, integration_id, status, start_time) VALUES (?, ?, ?, ?)`),
			id, integrationID, string(status), formatTime(s.now()))
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to create history record").
			WithDetail("integration_id", integrationID)
	}
	return id, nil
}

// UpdateHistoryRecord finalizes a running record. Finalized records are
// never updated again.
func (s *SQLStore) UpdateHistoryRecord(ctx context.Context, integrationID int64, historyID string, update integration.HistoryUpdate) error {
	var records sql.NullInt64
	if update.RecordsProcessed != nil {
		records = sql.NullInt64{Int64: int64(*update.RecordsProcessed), Valid: true}
	}
	var msg sql.NullString
	if update.Error != "" {
		msg = sql.NullString{String: update.Error, Valid: true}
	}

	var updated int64
	err := s.pool.SessionScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		res, err := sess.Exec(ctx, s.q(`UPDATE relay_run_history
			SET status = ?, end_time = ?, records_processed = ?, error = ?
			WHERE id = ? AND integration_id = ? AND status = ?`),
			string(update.Status), formatTime(s.now()), records, msg,
			historyID, integrationID, string(integration.StatusRunning))
		if err != nil {
			return err
		}
		updated, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to update history record").WithDetail("history_id", historyID)
	}
	if updated == 0 {
		return errors.NotFound("no running history record %s for integration %d", historyID, integrationID)
	}
	return nil
}

// History returns the integration's records in start order
func (s *SQLStore) History(ctx context.Context, id int64) ([]integration.RunHistoryRecord, error) {
	var out []integration.RunHistoryRecord
	err := s.pool.ReadScope(ctx, s.tenant, func(sess *tenantpool.Session) error {
		rows, err := sess.Query(ctx, s.q(`SELECT id, status, start_time, end_time, records_processed, error
			FROM relay_run_history WHERE integration_id = ? ORDER BY start_time, id`), id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rec := integration.RunHistoryRecord{IntegrationID: id}
			var (
				status  string
				start   string
				end     sql.NullString
				records sql.NullInt64
				msg     sql.NullString
			)
			if err := rows.Scan(&rec.ID, &status, &start, &end, &records, &msg); err != nil {
				return err
			}
			rec.Status = integration.RunStatus(status)
			if rec.StartTime, err = parseTime(start); err != nil {
				return err
			}
			if end.Valid {
				t, err := parseTime(end.String)
				if err != nil {
					return err
				}
				rec.EndTime = &t
			}
			if records.Valid {
				n := int(records.Int64)
				rec.RecordsProcessed = &n
			}
			rec.Error = msg.String
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to load run history").WithDetail("integration_id", id)
	}
	return out, nil
}

func encodeMap(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, errors.ErrorTypeValidation, "config is not JSON encodable")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMap(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolInt(*b)), Valid: true}
}
