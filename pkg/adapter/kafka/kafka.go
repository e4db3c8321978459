// Package kafka posts records to a Kafka topic, one message per record.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/observability"
)

// Kind is the registry kind of the Kafka adapter
const Kind = "kafka"

// Adapter produces to one topic. It is a destination only.
type Adapter struct {
	producer sarama.SyncProducer
	topic    string
	keyField string
	logger   *zap.Logger
}

// Option configures an Adapter
type Option func(*Adapter)

// WithProducer supplies the producer instead of dialing the brokers
func WithProducer(p sarama.SyncProducer) Option {
	return func(a *Adapter) { a.producer = p }
}

// Factory builds a Kafka adapter from config.KafkaSettings. The integration
// config names the topic (prefixed with topic_prefix) and may name a
// key_field whose value becomes the message key.
func Factory(_ context.Context, spec adapter.Spec) (adapter.Adapter, error) {
	var settings config.KafkaSettings
	if err := config.Decode(spec.Settings, &settings); err != nil {
		return nil, err
	}
	return New(settings, spec.Config)
}

// New builds a Kafka adapter, dialing the brokers unless a producer is given
func New(settings config.KafkaSettings, cfg map[string]interface{}, opts ...Option) (*Adapter, error) {
	spec := adapter.Spec{Config: cfg}
	topic := spec.String("topic")
	if topic == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka adapter requires a topic")
	}

	a := &Adapter{
		topic:    settings.TopicPrefix + topic,
		keyField: spec.String("key_field"),
		logger:   logger.Named("kafka_adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.producer != nil {
		return a, nil
	}

	if len(settings.Brokers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "kafka adapter requires brokers")
	}
	producer, err := sarama.NewSyncProducer(settings.Brokers, ProducerConfig(settings))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer").
			WithDetail("brokers", settings.Brokers)
	}
	a.producer = producer
	return a, nil
}

// ProducerConfig is the sarama configuration used for every producer
func ProducerConfig(settings config.KafkaSettings) *sarama.Config {
	cfg := sarama.NewConfig()
	if settings.ClientID != "" {
		cfg.ClientID = settings.ClientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = false
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Compression = sarama.CompressionLZ4
	return cfg
}

func (a *Adapter) Kind() string                              { return Kind }
func (a *Adapter) SourceCapability() adapter.Capability      { return adapter.CapabilityNone }
func (a *Adapter) DestinationCapability() adapter.Capability { return adapter.HTTPPost }

// Close flushes and closes the producer
func (a *Adapter) Close() error {
	return a.producer.Close()
}

// Post produces a batch ([]map[string]interface{} or []interface{} of
// objects) in one call, or a single record
func (a *Adapter) Post(ctx context.Context, payload interface{}) error {
	var records []map[string]interface{}
	switch v := payload.(type) {
	case map[string]interface{}:
		records = []map[string]interface{}{v}
	case []map[string]interface{}:
		records = v
	case []interface{}:
		for i, item := range v {
			rec, ok := item.(map[string]interface{})
			if !ok {
				return errors.Load(nil, fmt.Sprintf("item %d is %T, not an object", i, item))
			}
			records = append(records, rec)
		}
	default:
		return errors.Load(nil, fmt.Sprintf("cannot post %T to kafka", payload))
	}
	if len(records) == 0 {
		return nil
	}

	trace := map[string]string{}
	observability.InjectHeaders(ctx, trace)

	msgs := make([]*sarama.ProducerMessage, len(records))
	for i, rec := range records {
		msg, err := a.message(rec, trace)
		if err != nil {
			return errors.Load(err, "failed to encode kafka message")
		}
		msgs[i] = msg
	}

	if len(msgs) == 1 {
		if _, _, err := a.producer.SendMessage(msgs[0]); err != nil {
			return errors.Load(err, "kafka produce failed").WithDetail("topic", a.topic)
		}
	} else if err := a.producer.SendMessages(msgs); err != nil {
		return errors.Load(err, "kafka produce failed").WithDetail("topic", a.topic)
	}

	a.logger.Debug("kafka messages produced", zap.String("topic", a.topic), zap.Int("count", len(msgs)))
	return nil
}

func (a *Adapter) message(rec map[string]interface{}, trace map[string]string) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	msg := &sarama.ProducerMessage{
		Topic:     a.topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: time.Now(),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	for k, v := range trace {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if a.keyField != "" {
		if k, ok := rec[a.keyField]; ok && k != nil {
			msg.Key = sarama.StringEncoder(cast.ToString(k))
		}
	}
	return msg, nil
}
