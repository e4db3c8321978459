// Package s3 reads and writes tables as objects in an S3 compatible bucket.
// Objects use the same encodings and compression as the file adapter.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/adapter/file"
	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/table"
)

// Kind is the registry kind of the S3 adapter
const Kind = "s3"

// Client is the subset of the S3 API the transfer managers need
type Client interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
}

// Adapter is a bucket endpoint serving as source and destination
type Adapter struct {
	bucket      string
	prefix      string
	key         string
	format      file.Format
	compression compression.Algorithm

	downloader *manager.Downloader
	uploader   *manager.Uploader
	logger     *zap.Logger
}

// Option configures an Adapter
type Option func(*options)

type options struct {
	client Client
}

// WithClient supplies the S3 client instead of loading AWS configuration
func WithClient(c Client) Option {
	return func(o *options) { o.client = c }
}

// Factory builds an S3 adapter from config.S3Settings. The integration
// config may set key (or path, file_path), format and compression.
func Factory(ctx context.Context, spec adapter.Spec) (adapter.Adapter, error) {
	var settings config.S3Settings
	if err := config.Decode(spec.Settings, &settings); err != nil {
		return nil, err
	}
	return New(ctx, settings, spec.Config)
}

// New builds an S3 adapter. Credentials come from the default AWS chain.
func New(ctx context.Context, settings config.S3Settings, cfg map[string]interface{}, opts ...Option) (*Adapter, error) {
	if settings.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 adapter requires a bucket")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	spec := adapter.Spec{Config: cfg}
	a := &Adapter{
		bucket: settings.Bucket,
		prefix: settings.Prefix,
		logger: logger.Named("s3_adapter").With(zap.String("bucket", settings.Bucket)),
	}
	for _, k := range []string{"key", "path", "file_path"} {
		if a.key = spec.String(k); a.key != "" {
			break
		}
	}

	format := settings.Format
	if f := spec.String("format"); f != "" {
		format = f
	}
	if format != "" {
		f, err := file.ParseFormat(format)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid object format")
		}
		a.format = f
	}
	comp := settings.Compression
	if c := spec.String("compression"); c != "" {
		comp = c
	}
	alg, err := compression.Parse(comp)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid object compression")
	}
	a.compression = alg

	client := o.client
	if client == nil {
		c, err := newClient(ctx, settings)
		if err != nil {
			return nil, err
		}
		client = c
	}
	a.downloader = manager.NewDownloader(client)
	a.uploader = manager.NewUploader(client)
	return a, nil
}

func newClient(ctx context.Context, settings config.S3Settings) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if settings.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(settings.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load aws configuration")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
		}
		o.UsePathStyle = settings.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	}), nil
}

func (a *Adapter) Kind() string                              { return Kind }
func (a *Adapter) SourceCapability() adapter.Capability      { return adapter.TabularBlob }
func (a *Adapter) DestinationCapability() adapter.Capability { return adapter.TabularBlob }
func (a *Adapter) Close() error                              { return nil }

// objectKey places key under the configured prefix
func (a *Adapter) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

func (a *Adapter) codecFor(key string) (file.Format, compression.Algorithm) {
	f := a.format
	if f == "" {
		f = file.DetectFormat(key)
	}
	alg := a.compression
	if alg == compression.None {
		alg = compression.Detect(key)
	}
	return f, alg
}

// ReadTable downloads and decodes the configured object
func (a *Adapter) ReadTable(ctx context.Context) (*table.Frame, error) {
	if a.key == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 source requires a key")
	}
	key := a.objectKey(a.key)

	buf := manager.NewWriteAtBuffer(nil)
	n, err := a.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Extraction(err, "failed to download object").WithDetail("key", key)
	}

	format, alg := a.codecFor(key)
	r, err := compression.NewReader(alg, bytes.NewReader(buf.Bytes()[:n]))
	if err != nil {
		return nil, errors.Extraction(err, "failed to open compressed object").WithDetail("key", key)
	}
	defer r.Close()

	frame, err := file.Decode(r, format)
	if err != nil {
		return nil, errors.Extraction(err, "failed to decode object").WithDetail("key", key)
	}
	a.logger.Debug("object read", zap.String("key", key), zap.Int64("bytes", n), zap.Int("rows", frame.Rows()))
	return frame, nil
}

// WriteTable encodes frame and uploads it under key, or under the
// configured key when one is set. It returns the s3:// URI of the object.
func (a *Adapter) WriteTable(ctx context.Context, frame *table.Frame, key string) (string, error) {
	if a.key != "" {
		key = a.key
	}
	if key == "" {
		return "", errors.New(errors.ErrorTypeConfig, "s3 destination requires a key")
	}
	key = a.objectKey(key)
	if path.Ext(key) == "" {
		format := a.format
		if format == "" {
			format = file.CSV
		}
		key = fmt.Sprintf("%s.%s%s", key, format, a.compression.Extension())
	}
	format, alg := a.codecFor(key)

	var body bytes.Buffer
	w, err := compression.NewWriter(alg, &body)
	if err != nil {
		return "", errors.Load(err, "failed to open compressor").WithDetail("key", key)
	}
	if err := file.Encode(w, frame, format); err != nil {
		w.Close()
		return "", errors.Load(err, "failed to encode object").WithDetail("key", key)
	}
	if err := w.Close(); err != nil {
		return "", errors.Load(err, "failed to flush object").WithDetail("key", key)
	}

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String(contentType(format)),
	})
	if err != nil {
		return "", errors.Load(err, "failed to upload object").WithDetail("key", key)
	}

	uri := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.logger.Info("object written", zap.String("uri", uri), zap.Int("bytes", body.Len()), zap.Int("rows", frame.Rows()))
	return uri, nil
}

func contentType(f file.Format) string {
	switch f {
	case file.JSON:
		return "application/json"
	case file.JSONL:
		return "application/x-ndjson"
	case file.Avro:
		return "application/avro"
	default:
		return "text/csv"
	}
}
