package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
)

func newMock(t *testing.T) *mocks.SyncProducer {
	return mocks.NewSyncProducer(t, ProducerConfig(config.KafkaSettings{}))
}

func TestPostBatch(t *testing.T) {
	producer := newMock(t)
	var keys []string
	check := func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "relay.contacts", msg.Topic)
		k, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		keys = append(keys, string(k))
		return nil
	}
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(check)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(check)

	a, err := New(config.KafkaSettings{TopicPrefix: "relay."},
		map[string]interface{}{"topic": "contacts", "key_field": "id"}, WithProducer(producer))
	require.NoError(t, err)
	require.NoError(t, adapter.CheckDestination(a))

	err = a.Post(context.Background(), []map[string]interface{}{{"id": 1}, {"id": 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keys)
	require.NoError(t, a.Close())
}

func TestPostSingleRecord(t *testing.T) {
	producer := newMock(t)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var rec map[string]interface{}
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		if rec["email"] != "a@example.com" {
			return fmt.Errorf("unexpected record %v", rec)
		}
		return nil
	})

	a, err := New(config.KafkaSettings{}, map[string]interface{}{"topic": "contacts"}, WithProducer(producer))
	require.NoError(t, err)
	require.NoError(t, a.Post(context.Background(), map[string]interface{}{"email": "a@example.com"}))
	require.NoError(t, a.Close())
}

func TestPostFailureIsLoadError(t *testing.T) {
	producer := newMock(t)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	a, err := New(config.KafkaSettings{}, map[string]interface{}{"topic": "contacts"}, WithProducer(producer))
	require.NoError(t, err)

	err = a.Post(context.Background(), map[string]interface{}{"id": 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.True(t, errors.Is(err, sarama.ErrNotLeaderForPartition))
	require.NoError(t, a.Close())
}

func TestPostRejectsNonObjects(t *testing.T) {
	a, err := New(config.KafkaSettings{}, map[string]interface{}{"topic": "t"}, WithProducer(newMock(t)))
	require.NoError(t, err)

	err = a.Post(context.Background(), []interface{}{"not an object"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	err = a.Post(context.Background(), 42)
	assert.True(t, errors.IsType(err, errors.ErrorTypeLoad))
	assert.NoError(t, a.Post(context.Background(), []interface{}{}))
	require.NoError(t, a.Close())
}

func TestNewValidates(t *testing.T) {
	_, err := New(config.KafkaSettings{Brokers: []string{"localhost:9092"}}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(config.KafkaSettings{}, map[string]interface{}{"topic": "t"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	a, err := New(config.KafkaSettings{}, map[string]interface{}{"topic": "t"}, WithProducer(newMock(t)))
	require.NoError(t, err)
	_, err = adapter.Extract(context.Background(), a)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	require.NoError(t, a.Close())
}
