package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"lodging/internal/entities"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes reservation facts to a Kafka topic, keyed by
// reservation id so facts about one reservation stay ordered.
type EventPublisher struct {
	writer MessageWriter
	log    logrus.FieldLogger
}

// NewKafkaWriter returns an async writer; delivery failures are reported to
// the log rather than to the caller.
func NewKafkaWriter(topic string, log logrus.FieldLogger, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.WithError(err).WithField("messages", len(messages)).Warn("failed to publish reservation events")
			}
		},
	}
}

func NewEventPublisher(writer MessageWriter, log logrus.FieldLogger) *EventPublisher {
	return &EventPublisher{writer: writer, log: log}
}

func (p *EventPublisher) Dispatch(ctx context.Context, e entities.ReservationEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.WithError(err).WithField("event", e.Type).Error("failed to marshal reservation event")
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.ReservationID.String()),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"event":          e.Type,
			"reservation_id": e.ReservationID,
		}).Warn("failed to publish reservation event")
	}
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
