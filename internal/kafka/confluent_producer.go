package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/weiawesome/wes-io-live/dm-service/internal/domain"
	"github.com/weiawesome/wes-io-live/dm-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

const (
	headerEventType = "event_type"
	flushTimeoutMs  = 5000
)

// ProducerConfig configures the confluent producer and its topic.
type ProducerConfig struct {
	Brokers           string
	Topic             string
	Partitions        int
	ReplicationFactor int
}

type ConfluentProducer struct {
	producer *kafka.Producer
	topic    string
	reports  chan struct{}
	now      func() time.Time
}

// NewConfluentProducer creates the topic when missing and starts the
// delivery report loop.
func NewConfluentProducer(cfg ProducerConfig) (*ConfluentProducer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := createTopic(ctx, cfg); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("could not create topic, assuming it is provisioned")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"enable.idempotence": true,
		"linger.ms":          5,
		"compression.type":   "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cp := &ConfluentProducer{
		producer: p,
		topic:    cfg.Topic,
		reports:  make(chan struct{}),
		now:      time.Now,
	}
	go cp.drainReports()
	return cp, nil
}

func createTopic(ctx context.Context, cfg ProducerConfig) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": cfg.Brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	replication := cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             cfg.Topic,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: replication,
	}})
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			errs = append(errs, fmt.Errorf("topic %s: %w", r.Topic, r.Error))
		}
	}
	return errors.Join(errs...)
}

// drainReports records the outcome of every produced record. The event type
// rides along in the record's Opaque.
func (cp *ConfluentProducer) drainReports() {
	defer close(cp.reports)
	l := log.L()

	for e := range cp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			eventType, _ := ev.Opaque.(string)
			metrics.RecordPublish(eventType, ev.TopicPartition.Error)
			if ev.TopicPartition.Error != nil {
				l.Error().Err(ev.TopicPartition.Error).
					Str(log.FieldEventType, eventType).
					Str(log.FieldConversationID, string(ev.Key)).
					Msg("kafka delivery failed")
			}
		case kafka.Error:
			l.Warn().Err(ev).Bool("fatal", ev.IsFatal()).Msg("kafka client error")
		}
	}
}

func (cp *ConfluentProducer) ProduceMessageCreated(ctx context.Context, msg *domain.Message) error {
	return cp.produce(messageCreated(msg, cp.now()))
}

func (cp *ConfluentProducer) ProduceReactionUpdated(ctx context.Context, actorID string, state *domain.ReactionState) error {
	return cp.produce(reactionUpdated(actorID, state, cp.now()))
}

func (cp *ConfluentProducer) produce(env *Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", env.Type, err)
	}

	record := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &cp.topic, Partition: kafka.PartitionAny},
		Key:            []byte(env.ConversationID),
		Value:          value,
		Headers:        []kafka.Header{{Key: headerEventType, Value: []byte(env.Type)}},
		Opaque:         env.Type,
	}
	if err := cp.producer.Produce(record, nil); err != nil {
		return fmt.Errorf("failed to produce %s event: %w", env.Type, err)
	}
	return nil
}

// Close flushes pending records and waits for their delivery reports.
func (cp *ConfluentProducer) Close() error {
	pending := cp.producer.Flush(flushTimeoutMs)
	cp.producer.Close()
	<-cp.reports

	if pending > 0 {
		return fmt.Errorf("%d kafka records not delivered before close", pending)
	}
	return nil
}

var _ EventProducer = (*ConfluentProducer)(nil)
