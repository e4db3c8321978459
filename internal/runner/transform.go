package runner

import (
	"context"
	"strings"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/table"
	"github.com/ajitpratap0/relay/pkg/transform"
)

// ConcatName is the mapping transformation that joins two source columns.
// It is handled here rather than by the registry because it reads a second
// column of the same frame.
const ConcatName = "concat"

// transform builds the output frame, one column per mapping in mapping
// order. With no mappings the extracted frame passes through unchanged.
func (r *Runner) transform(ctx context.Context, frame *table.Frame, mappings []integration.FieldMapping, res *integration.RunResult) (out *table.Frame, err error) {
	_, span := observability.StartSpan(ctx, "transform", attribute.Int("transform.mappings", len(mappings)))
	defer func() { observability.EndSpan(span, err) }()

	if len(mappings) == 0 {
		return frame, nil
	}
	log := logger.WithContext(ctx, r.logger)

	out = table.New(frame.Rows())
	for _, m := range mappings {
		values, ok := frame.Column(m.SourceField)
		if !ok {
			if m.Required {
				return nil, errors.RequiredFieldMissing(m.SourceField)
			}
			log.Debug("optional source field missing", zap.String("field", m.SourceField))
			res.MissingFields = append(res.MissingFields, m.SourceField)
			continue
		}

		if m.TransformationName == ConcatName {
			out.Set(m.DestinationField, concat(frame, values, m.TransformParams))
			continue
		}

		name := m.TransformationName
		if name == "" {
			name = transform.DirectName
		}
		col, terr := r.transforms.Apply(name, values, transform.Params(m.TransformParams))
		if terr != nil {
			log.Warn("transform failed, copying source values",
				zap.String("transform", name),
				zap.String("field", m.DestinationField),
				zap.Error(terr))
			metrics.TransformFallbacks.WithLabelValues(name).Inc()
			res.FieldFallbacks = append(res.FieldFallbacks, m.DestinationField)
			col = append([]interface{}(nil), values...)
		}
		out.Set(m.DestinationField, col)
	}
	return out, nil
}

// concat joins values with the concat_field column using separator,
// default a single space. A missing concat field copies values.
func concat(frame *table.Frame, values []interface{}, params map[string]interface{}) []interface{} {
	p := transform.Params(params)
	other, ok := frame.Column(p.String("concat_field"))
	if !ok {
		return append([]interface{}(nil), values...)
	}
	sep := " "
	if p.Has("separator") {
		sep = p.String("separator")
	}

	out := make([]interface{}, len(values))
	for i := range values {
		out[i] = strings.Join([]string{cast.ToString(values[i]), cast.ToString(other[i])}, sep)
	}
	return out
}
