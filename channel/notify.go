package channel

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/getdoover/digital-matter/core/logger"
)

// Notifier receives a copy of every published channel document.
type Notifier interface {
	Notify(ctx context.Context, agentID, name string, doc Document)
}

// KafkaNotifier fans published channel documents out to a kafka topic,
// keyed by agent id so per-agent ordering is preserved.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier returns a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Notify implements Notifier. Failures are logged and swallowed; the
// notification stream is best-effort by caller policy.
func (n *KafkaNotifier) Notify(ctx context.Context, agentID, name string, doc Document) {
	value, err := json.Marshal(map[string]interface{}{
		"agent":     agentID,
		"channel":   name,
		"payload":   doc,
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("cannot marshal channel notification")
		return
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(agentID),
		Value: value,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("channel", name).Error("cannot write channel notification")
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// NotifyingStore decorates a Store with a Notifier.
type NotifyingStore struct {
	Store
	Notifier Notifier
}

// Publish implements Store and notifies after a successful publish.
func (s NotifyingStore) Publish(ctx context.Context, agentID, name string, doc Document, saveLog bool) error {
	err := s.Store.Publish(ctx, agentID, name, doc, saveLog)
	if err == nil && s.Notifier != nil {
		s.Notifier.Notify(ctx, agentID, name, doc)
	}
	return err
}
