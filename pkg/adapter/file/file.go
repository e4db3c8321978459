// Package file reads and writes tables as local files in CSV, JSON, JSON
// lines or Avro container format, optionally compressed.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/table"
)

// Kind is the registry kind of the file adapter
const Kind = "file"

// Adapter is a file endpoint. The same adapter serves as source and
// destination.
type Adapter struct {
	baseDir     string
	path        string
	format      Format
	compression compression.Algorithm
	logger      *zap.Logger
}

// Factory builds a file adapter. Endpoint settings are decoded as
// config.FileSettings; the integration config may set path (or file_path),
// format and compression.
func Factory(_ context.Context, spec adapter.Spec) (adapter.Adapter, error) {
	var settings config.FileSettings
	if err := config.Decode(spec.Settings, &settings); err != nil {
		return nil, err
	}
	return New(settings, spec.Config)
}

// New builds a file adapter from settings and per-integration overrides
func New(settings config.FileSettings, cfg map[string]interface{}) (*Adapter, error) {
	spec := adapter.Spec{Config: cfg}

	a := &Adapter{
		baseDir: settings.BaseDir,
		path:    spec.String("path"),
		logger:  logger.Named("file_adapter"),
	}
	if a.path == "" {
		a.path = spec.String("file_path")
	}

	format := settings.Format
	if f := spec.String("format"); f != "" {
		format = f
	}
	if format != "" {
		f, err := ParseFormat(format)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid file format")
		}
		a.format = f
	}

	comp := settings.Compression
	if c := spec.String("compression"); c != "" {
		comp = c
	}
	alg, err := compression.Parse(comp)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid file compression")
	}
	a.compression = alg
	return a, nil
}

func (a *Adapter) Kind() string                              { return Kind }
func (a *Adapter) SourceCapability() adapter.Capability      { return adapter.TabularBlob }
func (a *Adapter) DestinationCapability() adapter.Capability { return adapter.TabularBlob }
func (a *Adapter) Close() error                              { return nil }

// resolve joins a relative path with the base directory
func (a *Adapter) resolve(path string) string {
	if a.baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.baseDir, path)
}

// codecFor picks the format and compression for path. Explicit settings
// win over the path's extensions.
func (a *Adapter) codecFor(path string) (Format, compression.Algorithm) {
	f := a.format
	if f == "" {
		f = DetectFormat(path)
	}
	alg := a.compression
	if alg == compression.None {
		alg = compression.Detect(path)
	}
	return f, alg
}

// ReadTable reads the configured path
func (a *Adapter) ReadTable(ctx context.Context) (*table.Frame, error) {
	if a.path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "file source requires a path")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := a.resolve(a.path)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Extraction(err, "failed to open source file").WithDetail("path", path)
	}
	defer f.Close()

	format, alg := a.codecFor(path)
	r, err := compression.NewReader(alg, f)
	if err != nil {
		return nil, errors.Extraction(err, "failed to open compressed source").WithDetail("path", path)
	}
	defer r.Close()

	frame, err := Decode(r, format)
	if err != nil {
		return nil, errors.Extraction(err, "failed to decode source file").WithDetail("path", path)
	}
	a.logger.Debug("file read",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("rows", frame.Rows()))
	return frame, nil
}

// WriteTable writes frame to path, or to the configured path when path is
// empty. A path without an extension gets one from the format and
// compression. The file is written to a temporary name and renamed into
// place.
func (a *Adapter) WriteTable(ctx context.Context, frame *table.Frame, path string) (string, error) {
	if a.path != "" {
		path = a.path
	}
	if path == "" {
		return "", errors.New(errors.ErrorTypeConfig, "file destination requires a path")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path = a.resolve(path)
	if filepath.Ext(path) == "" {
		format := a.format
		if format == "" {
			format = CSV
		}
		path = fmt.Sprintf("%s.%s%s", path, format, a.compression.Extension())
	}
	format, alg := a.codecFor(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Load(err, "failed to create output directory").WithDetail("path", dir)
	}
	tmp, err := os.CreateTemp(dir, ".relay-*")
	if err != nil {
		return "", errors.Load(err, "failed to create output file").WithDetail("path", path)
	}
	defer os.Remove(tmp.Name())

	if err := a.encode(tmp, frame, format, alg); err != nil {
		tmp.Close()
		return "", errors.Load(err, "failed to write output file").WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Load(err, "failed to flush output file").WithDetail("path", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Load(err, "failed to move output file into place").WithDetail("path", path)
	}

	a.logger.Info("file written",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.String("compression", string(alg)),
		zap.Int("rows", frame.Rows()))
	return path, nil
}

func (a *Adapter) encode(f *os.File, frame *table.Frame, format Format, alg compression.Algorithm) error {
	w, err := compression.NewWriter(alg, f)
	if err != nil {
		return err
	}
	if err := Encode(w, frame, format); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
