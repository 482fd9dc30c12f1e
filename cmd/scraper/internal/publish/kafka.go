package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pnthang/market-collector/pkg/models"
)

// KafkaPublisher writes each quote to a topic keyed by index code so
// per-index ordering survives partitioning.
type KafkaPublisher struct {
	writer KafkaWriter
	logger *zap.Logger
}

func NewKafkaPublisher(writer KafkaWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

// NewKafkaWriter builds the default producer for the configured brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, rec models.QuoteRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal quote %s: %w", rec.Code, err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Code),
		Value: payload,
	})
	if err != nil {
		k.logger.Error("Kafka Write Error", zap.Error(err), zap.String("code", rec.Code))
		return err
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
