package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"lodging/internal/db"
	"lodging/internal/entities"
	"lodging/internal/repository"
)

// EmailClient is satisfied by *sendgrid.Client.
type EmailClient interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// SMSClient is satisfied by the Twilio REST client's Api service.
type SMSClient interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type SenderConfig struct {
	FromEmail  string
	FromName   string
	FromNumber string
}

var reservationEmail = template.Must(template.New("reservation").Parse(`<html><body>
<p>Hello {{.Name}},</p>
<p>{{.Headline}}</p>
<table>
<tr><td>Reservation</td><td>{{.ReservationID}}</td></tr>
<tr><td>Check-in</td><td>{{.Checkin}}</td></tr>
<tr><td>Check-out</td><td>{{.Checkout}}</td></tr>
{{if .Reason}}<tr><td>Reason</td><td>{{.Reason}}</td></tr>{{end}}
</table>
<p>&copy; {{.Year}}</p>
</body></html>`))

type reservationEmailData struct {
	Name          string
	Headline      string
	ReservationID string
	Checkin       string
	Checkout      string
	Reason        string
	Year          int
}

// SenderService delivers reservation facts and recovery codes by email and
// SMS. Deliveries run in the background; Wait blocks until they are done.
type SenderService struct {
	email EmailClient
	sms   SMSClient
	users repository.UserDirectory
	cfg   SenderConfig
	log   logrus.FieldLogger
	wg    sync.WaitGroup
}

func NewSenderService(email EmailClient, sms SMSClient, users repository.UserDirectory, cfg SenderConfig, log logrus.FieldLogger) *SenderService {
	if cfg.FromName == "" {
		cfg.FromName = "Reservations"
	}
	return &SenderService{email: email, sms: sms, users: users, cfg: cfg, log: log}
}

func headline(e entities.ReservationEvent) string {
	switch e.Type {
	case entities.EventReservationCreated:
		return "Your reservation was received and is awaiting payment."
	case entities.EventReservationConfirmed:
		return "Your reservation is confirmed."
	case entities.EventReservationCancelled:
		return "Your reservation was cancelled."
	case entities.EventReservationCompleted:
		return "Thanks for staying with us."
	default:
		return ""
	}
}

func (s *SenderService) Dispatch(ctx context.Context, e entities.ReservationEvent) {
	text := headline(e)
	if text == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := s.log.WithFields(logrus.Fields{"reservation_id": e.ReservationID, "event": e.Type})

		user, err := s.users.Get(context.WithoutCancel(ctx), e.GuestID)
		if err != nil {
			log.WithError(err).Warn("guest lookup failed, notification skipped")
			return
		}

		subject := fmt.Sprintf("Reservation %s: %s", shortID(e.ReservationID.String()), strings.ToLower(e.State))
		var html bytes.Buffer
		if err := reservationEmail.Execute(&html, reservationEmailData{
			Name:          user.Name,
			Headline:      text,
			ReservationID: e.ReservationID.String(),
			Checkin:       e.Checkin,
			Checkout:      e.Checkout,
			Reason:        e.Reason,
			Year:          e.OccurredAt.Year(),
		}); err != nil {
			log.WithError(err).Error("render reservation email")
			return
		}
		plain := fmt.Sprintf("Hello %s,\n\n%s\nCheck-in: %s\nCheck-out: %s\n", user.Name, text, e.Checkin, e.Checkout)
		if err := s.sendEmail(user.Email, user.Name, subject, plain, html.String()); err != nil {
			log.WithError(err).Warn("reservation email failed")
		}
		if user.Phone != "" {
			if err := s.sendSMS(user.Phone, fmt.Sprintf("%s Check-in %s.", text, e.Checkin)); err != nil {
				log.WithError(err).Warn("reservation sms failed")
			}
		}
	}()
}

func (s *SenderService) SendRecoveryCode(_ context.Context, user db.User, code string, expiresAt time.Time) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
		if minutes <= 0 {
			minutes = 1
		}
		plain := fmt.Sprintf("Hello %s,\n\nYour recovery code is %s. It expires in %d minutes.\n", user.Name, code, minutes)
		html := fmt.Sprintf("<p>Hello %s,</p><p>Your recovery code is <strong>%s</strong>. It expires in %d minutes.</p>",
			template.HTMLEscapeString(user.Name), code, minutes)
		if err := s.sendEmail(user.Email, user.Name, "Your recovery code", plain, html); err != nil {
			s.log.WithError(err).WithField("user_id", user.ID).Warn("recovery code email failed")
		}
	}()
}

// Wait blocks until every background delivery has finished.
func (s *SenderService) Wait() {
	s.wg.Wait()
}

func (s *SenderService) sendEmail(to, name, subject, plain, html string) error {
	if s.email == nil || s.cfg.FromEmail == "" {
		return fmt.Errorf("sendgrid is not configured")
	}
	message := mail.NewSingleEmail(mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail), subject, mail.NewEmail(name, to), plain, html)
	resp, err := s.email.Send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (s *SenderService) sendSMS(to, body string) error {
	if s.sms == nil || s.cfg.FromNumber == "" {
		return fmt.Errorf("twilio is not configured")
	}
	if !strings.HasPrefix(to, "+") {
		s.log.WithField("to", to).Warn("phone number is not in E.164 format")
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.FromNumber)
	params.SetBody(body)
	if _, err := s.sms.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
