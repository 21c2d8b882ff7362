package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"lodging/internal/db"
	"lodging/internal/entities"
	"lodging/internal/repository"
)

type fakeEmail struct {
	mu   sync.Mutex
	sent []*mail.SGMailV3
	err  error
}

func (f *fakeEmail) Send(m *mail.SGMailV3) (*rest.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, m)
	return &rest.Response{StatusCode: 202}, nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []*openapi.CreateMessageParams
}

func (f *fakeSMS) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p)
	return &openapi.ApiV2010Message{}, nil
}

func newSender(email EmailClient, sms SMSClient) *SenderService {
	users := repository.NewMemoryUsers(db.User{ID: guestID, Email: "guest@example.com", Name: "Guest", Phone: "+5491100000000", Active: true})
	return NewSenderService(email, sms, users, SenderConfig{FromEmail: "noreply@example.com", FromNumber: "+15550000000"}, nullLogger())
}

func TestSenderService_DispatchSendsEmailAndSMS(t *testing.T) {
	email, sms := &fakeEmail{}, &fakeSMS{}
	s := newSender(email, sms)

	s.Dispatch(context.Background(), entities.ReservationEvent{
		Type:          entities.EventReservationConfirmed,
		ReservationID: uuid.New(),
		GuestID:       guestID,
		State:         "CONFIRMED",
		Checkin:       "2030-06-01",
		Checkout:      "2030-06-03",
		OccurredAt:    time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Wait()

	require.Len(t, email.sent, 1)
	assert.Contains(t, email.sent[0].Subject, "confirmed")
	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+5491100000000", *sms.sent[0].To)
}

func TestSenderService_UnknownGuestOrEventIsSkipped(t *testing.T) {
	email := &fakeEmail{}
	s := newSender(email, nil)

	s.Dispatch(context.Background(), entities.ReservationEvent{Type: entities.EventReservationCreated, GuestID: 999})
	s.Dispatch(context.Background(), entities.ReservationEvent{Type: "reservation.audited", GuestID: guestID})
	s.Wait()
	assert.Empty(t, email.sent)
}

func TestSenderService_SendRecoveryCode(t *testing.T) {
	email := &fakeEmail{}
	s := newSender(email, nil)

	s.SendRecoveryCode(context.Background(), db.User{ID: guestID, Email: "guest@example.com", Name: "Guest"}, "ABCD2345", time.Now().Add(15*time.Minute))
	s.Wait()

	require.Len(t, email.sent, 1)
	assert.Equal(t, "Your recovery code", email.sent[0].Subject)
}

func TestSenderService_EmailFailureIsContained(t *testing.T) {
	s := newSender(&fakeEmail{err: errors.New("sendgrid down")}, nil)
	s.SendRecoveryCode(context.Background(), db.User{ID: guestID, Email: "guest@example.com"}, "ABCD2345", time.Now().Add(time.Minute))
	s.Wait()
}
