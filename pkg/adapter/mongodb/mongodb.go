// Package mongodb queries and inserts documents in one MongoDB collection.
package mongodb

import (
	"context"
	"time"

	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
)

// Kind is the registry kind of the MongoDB adapter
const Kind = "mongodb"

const defaultTimeout = 30 * time.Second

// Adapter is one collection
type Adapter struct {
	client     *mongo.Client
	collection *mongo.Collection
	filter     bson.M
	limit      int64
	logger     *zap.Logger
}

// Factory builds a MongoDB adapter from config.MongoSettings. The
// integration config names the collection and may give a filter document
// (as an object or extended JSON text) and a limit.
func Factory(ctx context.Context, spec adapter.Spec) (adapter.Adapter, error) {
	var settings config.MongoSettings
	if err := config.Decode(spec.Settings, &settings); err != nil {
		return nil, err
	}
	return New(ctx, settings, spec.Config)
}

// New connects a client lazily; no server round trip happens until the
// first query or insert
func New(ctx context.Context, settings config.MongoSettings, cfg map[string]interface{}) (*Adapter, error) {
	spec := adapter.Spec{Config: cfg}
	if settings.URI == "" || settings.Database == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mongodb adapter requires uri and database")
	}
	coll := spec.String("collection")
	if coll == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mongodb adapter requires a collection")
	}
	filter, err := parseFilter(cfg["filter"])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mongodb filter")
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(settings.URI).SetTimeout(timeout))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create mongodb client")
	}

	return &Adapter{
		client:     client,
		collection: client.Database(settings.Database).Collection(coll),
		filter:     filter,
		limit:      cast.ToInt64(cfg["limit"]),
		logger:     logger.Named("mongodb_adapter"),
	}, nil
}

// parseFilter accepts nil, an object or extended JSON text
func parseFilter(raw interface{}) (bson.M, error) {
	switch v := raw.(type) {
	case nil:
		return bson.M{}, nil
	case string:
		if v == "" {
			return bson.M{}, nil
		}
		var m bson.M
		if err := bson.UnmarshalExtJSON([]byte(v), false, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, err
		}
		return bson.M(m), nil
	}
}

func (a *Adapter) Kind() string                              { return Kind }
func (a *Adapter) SourceCapability() adapter.Capability      { return adapter.RecordQuery }
func (a *Adapter) DestinationCapability() adapter.Capability { return adapter.RecordCreate }

// Close disconnects the client
func (a *Adapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}

// QueryRecords returns the documents matching the filter
func (a *Adapter) QueryRecords(ctx context.Context) ([]map[string]interface{}, error) {
	opts := options.Find()
	if a.limit > 0 {
		opts.SetLimit(a.limit)
	}
	cur, err := a.collection.Find(ctx, a.filter, opts)
	if err != nil {
		return nil, errors.Extraction(err, "mongodb find failed").WithDetail("collection", a.collection.Name())
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Extraction(err, "failed to decode mongodb documents")
	}

	records := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		records[i] = plainMap(d)
	}
	a.logger.Debug("mongodb find returned",
		zap.String("collection", a.collection.Name()),
		zap.Int("documents", len(records)))
	return records, nil
}

// CreateRecord inserts record as one document
func (a *Adapter) CreateRecord(ctx context.Context, record map[string]interface{}) error {
	if _, err := a.collection.InsertOne(ctx, bson.M(record)); err != nil {
		return errors.Load(err, "mongodb insert failed").WithDetail("collection", a.collection.Name())
	}
	return nil
}

// plainMap converts BSON-specific values into plain Go values so the rest
// of the pipeline sees the same shapes as from JSON sources
func plainMap(m bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return plainMap(t)
	case bson.D:
		return plainMap(t.Map())
	case bson.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	default:
		return v
	}
}
