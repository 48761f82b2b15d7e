package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"discuno-payments/internal/domain/billing"

	"github.com/microcosm-cc/bluemonday"
)

const (
	RefundedWording       = "Your payment has been refunded."
	ContactSupportWording = "Please contact support regarding your payment."
)

type BookingFailure struct {
	SessionID      string
	CustomerEmail  string
	CustomerName   string
	MentorUsername string
	StartTime      string
	Amount         int64
	Currency       string
	Refunded       bool
}

type Field struct {
	Name  string
	Value string
}

type AdminAlert struct {
	Subject        string
	Priority       string
	Summary        string
	Fields         []Field
	IdempotencyKey string
}

type PayoutSent struct {
	PaymentID   uint
	MentorEmail string
	Amount      int64
	Currency    string
	TransferID  string
}

var (
	bookingFailureTmpl = template.Must(template.New("booking_failure").Parse(`<p>Hi {{.Name}},</p>
<p>We could not confirm your session{{if .Mentor}} with {{.Mentor}}{{end}}{{if .Start}} on {{.Start}}{{end}}.</p>
<p>{{.Outcome}}{{if .Support}} You can reach us at {{.Support}}.{{end}}</p>
<p>Amount: {{.Amount}}</p>`))

	adminAlertTmpl = template.Must(template.New("admin_alert").Parse(`<h2>[{{.Priority}}] {{.Subject}}</h2>
<p>{{.Summary}}</p>
<table>{{range .Fields}}<tr><td><b>{{.Name}}</b></td><td>{{.Value}}</td></tr>{{end}}</table>`))

	payoutTmpl = template.Must(template.New("payout").Parse(`<p>Your payout of {{.Amount}} is on its way.</p>
<p>Transfer reference: {{.TransferID}}</p>`))
)

// Notifier renders the pipeline's emails and hands them to a Sender.
type Notifier struct {
	sender       Sender
	adminEmail   string
	supportEmail string
	strip        *bluemonday.Policy
}

func NewNotifier(sender Sender, adminEmail, supportEmail string) *Notifier {
	return &Notifier{
		sender:       sender,
		adminEmail:   adminEmail,
		supportEmail: supportEmail,
		strip:        bluemonday.StrictPolicy(),
	}
}

// plain strips any markup from user-supplied text.
func (n *Notifier) plain(s string) string {
	return strings.TrimSpace(n.strip.Sanitize(s))
}

// SendBookingFailure tells the customer the booking could not be made. It never carries
// error details.
func (n *Notifier) SendBookingFailure(ctx context.Context, f BookingFailure) error {
	if f.CustomerEmail == "" {
		return errors.New("booking failure email: no customer email")
	}
	name := n.plain(f.CustomerName)
	if name == "" {
		name = "there"
	}
	outcome := ContactSupportWording
	if f.Refunded {
		outcome = RefundedWording
	}
	data := map[string]string{
		"Name":    name,
		"Mentor":  n.plain(f.MentorUsername),
		"Start":   f.StartTime,
		"Outcome": outcome,
		"Amount":  billing.FormatAmount(f.Amount, f.Currency),
	}
	if !f.Refunded {
		data["Support"] = n.supportEmail
	}

	html, err := render(bookingFailureTmpl, data)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Hi %s,\n\nWe could not confirm your session. %s", name, outcome)
	if !f.Refunded && n.supportEmail != "" {
		text += " You can reach us at " + n.supportEmail + "."
	}

	return n.sender.Send(ctx, Message{
		To:             []string{f.CustomerEmail},
		Subject:        "Your session could not be booked",
		HTML:           html,
		Text:           text,
		Tag:            "booking_failure",
		IdempotencyKey: "booking-failure:" + f.SessionID,
	})
}

func (n *Notifier) SendAdminAlert(ctx context.Context, a AdminAlert) error {
	if n.adminEmail == "" {
		return errors.New("admin alert: ADMIN_EMAIL not configured")
	}
	if a.Priority == "" {
		a.Priority = "HIGH"
	}
	html, err := render(adminAlertTmpl, a)
	if err != nil {
		return err
	}
	var text strings.Builder
	text.WriteString(a.Summary + "\n")
	for _, f := range a.Fields {
		text.WriteString(f.Name + ": " + f.Value + "\n")
	}
	return n.sender.Send(ctx, Message{
		To:             []string{n.adminEmail},
		Subject:        fmt.Sprintf("[%s] %s", a.Priority, a.Subject),
		HTML:           html,
		Text:           text.String(),
		Tag:            "admin_alert",
		IdempotencyKey: a.IdempotencyKey,
	})
}

func (n *Notifier) SendPayoutSent(ctx context.Context, p PayoutSent) error {
	if p.MentorEmail == "" {
		return errors.New("payout email: no mentor email")
	}
	amount := billing.FormatAmount(p.Amount, p.Currency)
	html, err := render(payoutTmpl, map[string]string{"Amount": amount, "TransferID": p.TransferID})
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, Message{
		To:             []string{p.MentorEmail},
		Subject:        "You have been paid " + amount,
		HTML:           html,
		Text:           fmt.Sprintf("Your payout of %s is on its way. Transfer reference: %s", amount, p.TransferID),
		Tag:            "payout",
		IdempotencyKey: "payout:" + strconv.FormatUint(uint64(p.PaymentID), 10),
	})
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
