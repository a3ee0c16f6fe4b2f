package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/chaz8081/miscale-bridge/internal/ble/protocol"
)

func TestKafkaReporterPublishesJSON(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var p KafkaPayload
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		if p.Weight != 72.5 || p.Impedance != 480 {
			return errors.New("unexpected payload")
		}
		if !p.Timestamp.Equal(time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)) {
			return errors.New("unexpected timestamp")
		}
		return nil
	})

	k := NewKafkaReporter(producer, "scale-measurements", "0C:95:41:CB:23:FF")
	k.now = func() time.Time { return time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC) }

	if err := k.Report(context.Background(), protocol.Measurement{Weight: 72.5, Impedance: 480, Height: 1.858}); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
}

func TestKafkaReporterSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	k := NewKafkaReporter(producer, "scale-measurements", "")
	err := k.Report(context.Background(), protocol.Measurement{Weight: 70})

	var rerr *ReportError
	if !errors.As(err, &rerr) || rerr.Sink != "kafka" {
		t.Fatalf("Report() error = %v, want kafka *ReportError", err)
	}
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("Report() error = %v, want to wrap ErrOutOfBrokers", err)
	}
}

func TestKafkaReporterCancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	k := NewKafkaReporter(producer, "scale-measurements", "")
	if err := k.Report(ctx, protocol.Measurement{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Report() error = %v, want context.Canceled", err)
	}
}
