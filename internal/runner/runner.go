// Package runner executes one integration run: it extracts from the
// source adapter, applies the field mappings and loads the result into the
// destination adapter, recording the outcome as run history.
//
// # Run lifecycle
//
//	load integration   absent: error result, no history
//	load mappings
//	create history     status running
//	resolve adapters
//	extract            normalized into a table.Frame
//	transform          one output column per mapping, in mapping order
//	load               by destination capability
//	finalize history   success with the extracted row count, or error
//
// A run never panics out of Run and never retries. Failures become an
// error result and an error history record.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/scheduler"
	"github.com/ajitpratap0/relay/pkg/table"
	"github.com/ajitpratap0/relay/pkg/transform"
)

// MessageNotFound is the result message for an unknown integration
const MessageNotFound = "not found"

// MessageShuttingDown is the result message of runs started after Wait
const MessageShuttingDown = "runner is shutting down"

// Resolver builds the adapter for an endpoint of an integration
type Resolver interface {
	Resolve(ctx context.Context, typ integration.Type, endpoint string, cfg map[string]interface{}) (adapter.Adapter, error)
}

// Runner runs integrations. It is safe for concurrent use; distinct runs
// share only the transformation registry.
type Runner struct {
	provider   integration.Provider
	resolver   Resolver
	transforms *transform.Registry

	outputDir string
	exclusive bool
	guard     runGuard

	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Runner
type Option func(*Runner)

// WithConfig applies the runner section of the configuration
func WithConfig(cfg config.RunnerConfig) Option {
	return func(r *Runner) {
		r.outputDir = cfg.OutputDir
		r.exclusive = cfg.ExclusiveRuns
	}
}

// WithExclusiveRuns rejects a run while another run of the same
// integration is in flight
func WithExclusiveRuns() Option {
	return func(r *Runner) { r.exclusive = true }
}

// WithOutputDir sets the directory generated blob paths are placed in
func WithOutputDir(dir string) Option {
	return func(r *Runner) { r.outputDir = dir }
}

// WithLogger sets the runner's logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock replaces time.Now for run timestamps and generated paths
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner
func New(provider integration.Provider, resolver Resolver, transforms *transform.Registry, opts ...Option) *Runner {
	r := &Runner{
		provider:   provider,
		resolver:   resolver,
		transforms: transforms,
		outputDir:  config.Default().Runner.OutputDir,
		logger:     logger.Named("runner"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one run of integration id and reports its outcome
func (r *Runner) Run(ctx context.Context, id int64) *integration.RunResult {
	ctx = logger.WithIntegration(ctx, id)
	log := logger.WithContext(ctx, r.logger)

	if !r.guard.enter() {
		log.Warn("run rejected, runner is shutting down")
		metrics.RunsTotal.WithLabelValues("unknown", "rejected").Inc()
		return &integration.RunResult{Status: integration.StatusError, Message: MessageShuttingDown}
	}
	defer r.guard.leave()

	start := r.now()

	if r.exclusive {
		if !r.guard.tryLock(id) {
			log.Warn("run rejected, integration already running")
			metrics.RunsTotal.WithLabelValues("unknown", "rejected").Inc()
			return &integration.RunResult{
				Status:  integration.StatusError,
				Message: fmt.Sprintf("integration %d is already running", id),
			}
		}
		defer r.guard.unlock(id)
	}

	in, err := r.provider.GetIntegration(ctx, id)
	if err != nil {
		log.Error("failed to load integration", zap.Error(err))
		return &integration.RunResult{Status: integration.StatusError, Message: err.Error()}
	}
	if in == nil {
		log.Warn("integration not found")
		return &integration.RunResult{Status: integration.StatusError, Message: MessageNotFound}
	}

	mappings, err := r.provider.GetFieldMappings(ctx, id)
	if err != nil {
		log.Error("failed to load field mappings", zap.Error(err))
		return &integration.RunResult{Status: integration.StatusError, Message: err.Error()}
	}

	historyID, err := r.provider.CreateHistoryRecord(ctx, id, integration.StatusRunning)
	if err != nil {
		log.Error("failed to create run history record", zap.Error(err))
		return &integration.RunResult{Status: integration.StatusError, Message: err.Error()}
	}
	ctx = logger.WithHistory(ctx, historyID)
	log = logger.WithContext(ctx, r.logger)

	ctx, span := observability.StartSpan(ctx, "run",
		attribute.Int64("integration.id", id),
		attribute.String("integration.type", string(in.Type)),
		attribute.String("run.history_id", historyID))

	res := &integration.RunResult{HistoryID: historyID}
	log.Info("run started",
		zap.String("source", in.Source),
		zap.String("destination", in.Destination),
		zap.Int("mappings", len(mappings)))

	rows, err := r.execute(ctx, in, mappings, res)

	update := integration.HistoryUpdate{}
	if err != nil {
		res.Status = integration.StatusError
		res.Message = err.Error()
		update.Status = integration.StatusError
		update.Error = err.Error()
	} else {
		res.Status = integration.StatusSuccess
		res.RecordsProcessed = &rows
		update.Status = integration.StatusSuccess
		update.RecordsProcessed = &rows
	}
	res.Duration = r.now().Sub(start)
	observability.EndSpan(span, err)

	// finalization outlives a cancelled run context
	finalCtx := context.WithoutCancel(ctx)
	if uerr := r.provider.UpdateHistoryRecord(finalCtx, id, historyID, update); uerr != nil {
		log.Error("failed to finalize run history record", zap.Error(uerr))
	}
	healthy := res.OK() && len(res.LoadFailures) == 0
	if terr := r.provider.TouchIntegration(finalCtx, id, start, healthy); terr != nil {
		log.Warn("failed to stamp integration", zap.Error(terr))
	}

	metrics.RunsTotal.WithLabelValues(string(in.Type), string(res.Status)).Inc()
	metrics.RunDuration.WithLabelValues(string(in.Type)).Observe(res.Duration.Seconds())

	if err != nil {
		log.Error("run failed",
			zap.Error(err),
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Duration("duration", res.Duration))
	} else {
		log.Info("run completed",
			zap.Int("records_processed", rows),
			zap.Strings("field_fallbacks", res.FieldFallbacks),
			zap.Strings("missing_fields", res.MissingFields),
			zap.Int("load_failures", len(res.LoadFailures)),
			zap.Duration("duration", res.Duration))
	}
	return res
}

// RunFunc adapts the runner to the scheduler. An error result becomes an
// error so the scheduler can count it.
func (r *Runner) RunFunc() scheduler.RunFunc {
	return func(ctx context.Context, id int64) error {
		res := r.Run(ctx, id)
		if !res.OK() {
			return errors.Newf(errors.ErrorTypeInternal, "integration %d run failed: %s", id, res.Message)
		}
		return nil
	}
}

// Wait stops the runner from accepting new runs and blocks until every
// in-flight run has returned or ctx is done. Runs started afterwards fail
// with MessageShuttingDown.
func (r *Runner) Wait(ctx context.Context) error {
	return r.guard.wait(ctx)
}

// execute resolves the adapters and moves the data. It returns the number
// of extracted rows.
func (r *Runner) execute(ctx context.Context, in *integration.Integration, mappings []integration.FieldMapping, res *integration.RunResult) (rows int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf(errors.ErrorTypeInternal, "run panicked: %v", p)
		}
	}()

	src, err := r.resolver.Resolve(ctx, in.Type, in.Source, in.SourceConfig)
	if err != nil {
		return 0, err
	}
	defer r.close(ctx, src)

	dst, err := r.resolver.Resolve(ctx, in.Type, in.Destination, in.DestinationConfig)
	if err != nil {
		return 0, err
	}
	defer r.close(ctx, dst)

	frame, err := r.extract(ctx, src)
	if err != nil {
		return 0, err
	}
	metrics.RecordsProcessed.WithLabelValues(in.Source, in.Destination, "extracted").Add(float64(frame.Rows()))

	out, err := r.transform(ctx, frame, mappings, res)
	if err != nil {
		return 0, err
	}

	if err := r.load(ctx, in, dst, out, res); err != nil {
		return 0, err
	}
	return frame.Rows(), nil
}

func (r *Runner) close(ctx context.Context, a adapter.Adapter) {
	if err := a.Close(); err != nil {
		logger.WithContext(ctx, r.logger).Warn("failed to close adapter", zap.String("kind", a.Kind()), zap.Error(err))
	}
}

func (r *Runner) extract(ctx context.Context, src adapter.Adapter) (frame *table.Frame, err error) {
	ctx, span := observability.StartSpan(ctx, "extract",
		attribute.String("adapter.kind", src.Kind()),
		attribute.String("adapter.capability", string(src.SourceCapability())))
	defer func() { observability.EndSpan(span, err) }()

	payload, err := adapter.Extract(ctx, src)
	if err != nil {
		if errors.TypeOf(err) == errors.ErrorTypeInternal {
			err = errors.Extraction(err, "source read failed")
		}
		return nil, err
	}
	return table.Normalize(payload)
}

// generatedPath is the blob path used when the destination config names none
func (r *Runner) generatedPath(in *integration.Integration) string {
	stamp := r.now().UTC().Format("20060102T150405Z")
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return filepath.Join(r.outputDir, fmt.Sprintf("integration_%d_%s_%s", in.ID, stamp, suffix))
}
