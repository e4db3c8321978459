package runner

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/table"
)

// load dispatches the output frame by the destination's capability.
// Record posting in non-batch mode and record creation load each record on
// its own; a failed record is reported in res.LoadFailures and does not
// stop the others.
func (r *Runner) load(ctx context.Context, in *integration.Integration, dst adapter.Adapter, out *table.Frame, res *integration.RunResult) (err error) {
	ctx, span := observability.StartSpan(ctx, "load",
		attribute.String("adapter.kind", dst.Kind()),
		attribute.String("adapter.capability", string(dst.DestinationCapability())),
		attribute.Int("load.rows", out.Rows()))
	defer func() { observability.EndSpan(span, err) }()

	if err := adapter.CheckDestination(dst); err != nil {
		return err
	}
	log := logger.WithContext(ctx, r.logger)
	loaded := metrics.RecordsProcessed.WithLabelValues(in.Source, in.Destination, "loaded")
	failed := metrics.RecordsProcessed.WithLabelValues(in.Source, in.Destination, "load_failed")
	spec := adapter.Spec{Config: in.DestinationConfig}

	switch dst.DestinationCapability() {
	case adapter.TabularBlob:
		path := spec.String("file_path")
		if path == "" {
			path = r.generatedPath(in)
		}
		written, err := dst.(adapter.BlobWriter).WriteTable(ctx, out, path)
		if err != nil {
			return asLoad(err, "blob write failed")
		}
		log.Info("output written", zap.String("path", written), zap.Int("rows", out.Rows()))
		loaded.Add(float64(out.Rows()))

	case adapter.HTTPPost:
		poster := dst.(adapter.Poster)
		records := out.Records()
		if spec.Bool("batch_mode", true) {
			if err := poster.Post(ctx, records); err != nil {
				return asLoad(err, "batch post failed")
			}
			loaded.Add(float64(len(records)))
			return nil
		}
		r.eachRecord(ctx, records, res, func(rec map[string]interface{}) error {
			return poster.Post(ctx, rec)
		})
		loaded.Add(float64(len(records) - len(res.LoadFailures)))
		failed.Add(float64(len(res.LoadFailures)))

	case adapter.RecordCreate:
		creator := dst.(adapter.RecordCreator)
		records := out.Records()
		r.eachRecord(ctx, records, res, func(rec map[string]interface{}) error {
			return creator.CreateRecord(ctx, rec)
		})
		loaded.Add(float64(len(records) - len(res.LoadFailures)))
		failed.Add(float64(len(res.LoadFailures)))
	}
	return nil
}

// eachRecord calls fn for every record, collecting failures instead of
// stopping. A panicking fn counts as a failure of that record.
func (r *Runner) eachRecord(ctx context.Context, records []map[string]interface{}, res *integration.RunResult, fn func(map[string]interface{}) error) {
	log := logger.WithContext(ctx, r.logger)
	for i, rec := range records {
		err := func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return fn(rec)
		}()
		if err != nil {
			log.Warn("record load failed", zap.Int("record", i), zap.Error(err))
			res.LoadFailures = append(res.LoadFailures, fmt.Sprintf("record %d: %v", i, err))
		}
	}
}

// asLoad keeps typed adapter errors and wraps anything else as a load error
func asLoad(err error, message string) error {
	if errors.TypeOf(err) == errors.ErrorTypeInternal {
		return errors.Load(err, message)
	}
	return err
}
