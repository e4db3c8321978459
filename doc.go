// Package relay runs configured data integrations: it extracts records from a
// source adapter, maps and transforms their columns, and loads the result into
// a destination adapter, on demand or on a cron-like schedule.
//
// # Architecture
//
// Relay is built from four parts:
//
// 1. Transformations (pkg/transform): a registry of named column transforms
// such as uppercase, mask, hash or date_format, looked up by the field
// mappings of an integration.
//
// 2. Runner (internal/runner): executes one integration run. It resolves the
// source and destination adapters, extracts into a table.Frame, applies the
// field mappings and records a run history entry.
//
// 3. Scheduler (pkg/scheduler): a polling loop that dispatches runs for
// interval ("15m", "6h", "1d") and cron schedules, with a debounce window and
// a bound on concurrent runs.
//
// 4. Tenant pools (pkg/tenantpool): one database/sql engine per tenant key,
// with rolling checkout latency windows, health checks and sizing
// recommendations.
//
// # Quick Start
//
//	reg := adapter.NewRegistry(nil)
//	_ = reg.Register(file.Kind, file.Factory)
//	_ = reg.Register(httpapi.Kind, httpapi.Factory)
//
//	st := store.NewMemoryStore(integration.NewNotifier())
//	r := runner.New(st, reg, transform.New(nil))
//	res := r.Run(ctx, integrationID)
//
// # Key Packages
//
//	pkg/adapter       - Capability model, registry and adapters (file, http, sql, mongodb, kafka, s3)
//	pkg/transform     - Column transformation registry
//	pkg/scheduler     - Interval and cron scheduling
//	pkg/cron          - Cron expression parsing and human-readable phrases
//	pkg/tenantpool    - Tenant-aware connection pools
//	pkg/store         - Integration, mapping and run history storage
//	pkg/table         - Column-oriented frame passed between stages
//	pkg/errors        - Typed errors
//	pkg/config        - Viper configuration
//	pkg/logger        - Zap logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing
//
// The relay command (cmd/relay) wires everything together; see "relay --help".
package relay
