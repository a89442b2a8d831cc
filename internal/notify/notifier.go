package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/practice-booking/internal/booking"
)

type Config struct {
	PractitionerName  string
	PractitionerEmail string
	PublicBaseURL     string
	Location          *time.Location
}

// EmailNotifier renders booking messages as plain text and hands them to an EmailSender.
type EmailNotifier struct {
	sender EmailSender
	cfg    Config
	logger *zap.Logger
}

var _ booking.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(sender EmailSender, cfg Config, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &EmailNotifier{sender: sender, cfg: cfg, logger: logger}
}

type messageData struct {
	PatientName      string
	PatientEmail     string
	PatientPhone     string
	PractitionerName string
	Day              string
	Time             string
	Reason           string
	Status           string
	CancelURL        string
	Actor            string
	Message          string
}

var templates = template.Must(template.New("messages").Parse(`
{{define "created_patient_subject"}}Your appointment on {{.Day}} at {{.Time}}{{end}}
{{define "created_patient_body"}}Hello {{.PatientName}},

Your appointment with {{.PractitionerName}} on {{.Day}} at {{.Time}} is {{.Status}}.

Reason: {{.Reason}}

If you cannot attend, cancel at least 24 hours in advance using this link:
{{.CancelURL}}
{{end}}
{{define "created_practitioner_subject"}}New booking: {{.PatientName}}, {{.Day}} {{.Time}}{{end}}
{{define "created_practitioner_body"}}New booking on {{.Day}} at {{.Time}} ({{.Status}}).

Patient: {{.PatientName}}
Email: {{.PatientEmail}}
Phone: {{.PatientPhone}}
Reason: {{.Reason}}
{{end}}
{{define "cancelled_patient_subject"}}Your appointment on {{.Day}} at {{.Time}} is cancelled{{end}}
{{define "cancelled_patient_body"}}Hello {{.PatientName}},

{{.PractitionerName}} had to cancel your appointment on {{.Day}} at {{.Time}}.
{{if .Message}}
Message: {{.Message}}
{{end}}
You are welcome to book another slot.
{{end}}
{{define "cancelled_practitioner_subject"}}Cancelled: {{.PatientName}}, {{.Day}} {{.Time}}{{end}}
{{define "cancelled_practitioner_body"}}{{.PatientName}} cancelled the appointment on {{.Day}} at {{.Time}}.
{{if .Message}}
Message: {{.Message}}
{{end}}
The slot is available again.
{{end}}
`))

func (n *EmailNotifier) BookingCreated(ctx context.Context, ev booking.BookingCreatedEvent, to booking.Recipient) error {
	data := n.data(ev.Booking, ev.StartsAt)
	return n.send(ctx, "created", to, ev.Booking, data)
}

func (n *EmailNotifier) BookingCancelled(ctx context.Context, ev booking.BookingCancelledEvent, to booking.Recipient) error {
	data := n.data(ev.Booking, ev.StartsAt)
	data.Actor = string(ev.Actor)
	data.Message = ev.Message
	return n.send(ctx, "cancelled", to, ev.Booking, data)
}

func (n *EmailNotifier) send(ctx context.Context, kind string, to booking.Recipient, b booking.Booking, data messageData) error {
	prefix := kind + "_" + string(to)

	subject, err := render(prefix+"_subject", data)
	if err != nil {
		return err
	}
	body, err := render(prefix+"_body", data)
	if err != nil {
		return err
	}

	msg := EmailMessage{Subject: subject, Body: body}
	switch to {
	case booking.RecipientPatient:
		msg.To, msg.ToName = b.Email, b.FullName()
	case booking.RecipientPractitioner:
		if n.cfg.PractitionerEmail == "" {
			n.logger.Warn("practitioner email not configured, message skipped", zap.String("template", prefix))
			return nil
		}
		msg.To, msg.ToName = n.cfg.PractitionerEmail, n.cfg.PractitionerName
	default:
		return fmt.Errorf("notify: unknown recipient %q", to)
	}

	return n.sender.Send(ctx, msg)
}

func (n *EmailNotifier) data(b booking.Booking, startsAt time.Time) messageData {
	local := startsAt.In(n.cfg.Location)
	return messageData{
		PatientName:      b.FullName(),
		PatientEmail:     b.Email,
		PatientPhone:     b.Phone,
		PractitionerName: n.cfg.PractitionerName,
		Day:              local.Format("Monday 2 January 2006"),
		Time:             local.Format("15:04"),
		Reason:           b.Reason,
		Status:           string(b.Status),
		CancelURL:        n.cancelURL(b.CancellationToken),
	}
}

func (n *EmailNotifier) cancelURL(token string) string {
	base := strings.TrimRight(n.cfg.PublicBaseURL, "/")
	return base + "/bookings/cancel/" + url.PathEscape(token)
}

func render(name string, data messageData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
