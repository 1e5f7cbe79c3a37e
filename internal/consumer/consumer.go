// Package consumer feeds detected earthquakes from Kafka into the alert
// service.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"quake-alerts/internal/events"
	kafkautil "quake-alerts/pkg/kafka"
)

// Consumer wraps a Kafka reader and decodes earthquake requests.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a consumer group reader for topic. Offsets are committed
// explicitly after each message is handled.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	return &Consumer{reader: reader, topic: topic}, nil
}

// ReadMessage reads the next message and decodes it. When decoding fails the
// raw message is returned with the error so the caller can commit past it.
func (c *Consumer) ReadMessage(ctx context.Context) (*events.Request, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	req, err := Decode(msg.Value)
	if err != nil {
		return nil, &msg, err
	}
	return req, &msg, nil
}

// Decode parses a JSON earthquake request.
func Decode(data []byte) (*events.Request, error) {
	var req events.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal earthquake event: %w", err)
	}
	return &req, nil
}

// CommitMessage commits the offset of msg.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}
