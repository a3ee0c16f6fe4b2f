package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
)

// KafkaPayload is the message value published for every measurement.
type KafkaPayload struct {
	protocol.Measurement
	Timestamp time.Time `json:"timestamp"`
}

// KafkaReporter publishes measurements to a Kafka topic.
type KafkaReporter struct {
	producer sarama.SyncProducer
	topic    string
	key      string
	now      func() time.Time
}

// NewKafkaProducer connects a synchronous producer to brokers.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Retry.Max = 5
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("report: kafka producer: %w", err)
	}
	return producer, nil
}

// NewKafkaReporter publishes to topic with key as the message key (the scale address).
func NewKafkaReporter(producer sarama.SyncProducer, topic, key string) *KafkaReporter {
	return &KafkaReporter{
		producer: producer,
		topic:    topic,
		key:      key,
		now:      time.Now,
	}
}

func (k *KafkaReporter) Report(ctx context.Context, m protocol.Measurement) error {
	if err := ctx.Err(); err != nil {
		return &ReportError{Sink: "kafka", Err: err}
	}

	value, err := json.Marshal(KafkaPayload{Measurement: m, Timestamp: k.now().UTC()})
	if err != nil {
		return &ReportError{Sink: "kafka", Err: fmt.Errorf("marshal: %w", err)}
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(value),
	}
	if k.key != "" {
		msg.Key = sarama.StringEncoder(k.key)
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return &ReportError{Sink: "kafka", Err: err}
	}
	slog.Debug("[REPORT] measurement published", "topic", k.topic, "partition", partition, "offset", offset)
	return nil
}

// Close closes the underlying producer.
func (k *KafkaReporter) Close() error {
	return k.producer.Close()
}
