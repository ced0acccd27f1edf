package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const headerEventType = "event-type"

// producer is the slice of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes events to one topic keyed by primary contact id, so
// every change to a cluster lands on the same partition in order.
type KafkaPublisher struct {
	client producer
	admin  *kadm.Client
	topic  string
}

// NewKafkaPublisher connects a producer to brokers. The client waits for all
// in-sync replicas before acknowledging a record.
func NewKafkaPublisher(brokers []string, topic, clientID string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if clientID != "" {
		opts = append(opts, kgo.ClientID(clientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, admin: kadm.NewClient(client), topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, batch []Pending) error {
	if len(batch) == 0 {
		return nil
	}
	records := make([]*kgo.Record, 0, len(batch))
	for _, pending := range batch {
		value, err := pending.Event.Payload()
		if err != nil {
			return err
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(pending.Event.PrimaryID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: headerEventType, Value: []byte(pending.Event.Type)},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce contact events: %w", err)
	}
	return nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	if p.admin == nil {
		return errors.New("kafka admin client unavailable")
	}
	resp, err := p.admin.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// LogPublisher writes events to the log. It stands in for Kafka in development.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, batch []Pending) error {
	for _, pending := range batch {
		e := pending.Event
		p.logger.InfoContext(ctx, "contact event",
			"event_id", e.ID.String(),
			"event_type", string(e.Type),
			"contact_id", e.ContactID,
			"primary_contact_id", e.PrimaryID,
			"link_precedence", string(e.Precedence),
			"request_id", e.RequestID,
		)
	}
	return nil
}
