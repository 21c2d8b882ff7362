package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodging/internal/entities"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestEventPublisher_Dispatch(t *testing.T) {
	logger, _ := test.NewNullLogger()
	w := &fakeWriter{}
	p := NewEventPublisher(w, logger)

	e := entities.ReservationEvent{
		ID:              uuid.New(),
		Type:            entities.EventReservationConfirmed,
		ReservationID:   uuid.New(),
		AccommodationID: 4,
		GuestID:         9,
		State:           "CONFIRMED",
		Checkin:         "2030-06-01",
		Checkout:        "2030-06-04",
		OccurredAt:      time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	p.Dispatch(context.Background(), e)

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, e.ReservationID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, entities.EventReservationConfirmed, string(msg.Headers[0].Value))

	var decoded entities.ReservationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, e.ReservationID, decoded.ReservationID)
	assert.Equal(t, "2030-06-01", decoded.Checkin)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEventPublisher_WriteFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	p := NewEventPublisher(&fakeWriter{err: errors.New("broker down")}, logger)

	p.Dispatch(context.Background(), entities.ReservationEvent{Type: entities.EventReservationCreated, ReservationID: uuid.New()})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
