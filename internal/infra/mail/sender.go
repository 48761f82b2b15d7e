package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

type Message struct {
	To             []string
	Subject        string
	HTML           string
	Text           string
	Tag            string
	IdempotencyKey string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender delivers through the Resend API. The idempotency key makes a retried send
// of the same notification a no-op on Resend's side.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if msg.Tag != "" {
		req.Tags = []resend.Tag{{Name: "category", Value: msg.Tag}}
	}

	var err error
	if msg.IdempotencyKey != "" {
		_, err = s.client.Emails.SendWithOptions(ctx, req, &resend.SendEmailOptions{IdempotencyKey: msg.IdempotencyKey})
	} else {
		_, err = s.client.Emails.SendWithContext(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("resend %q: %w", msg.Subject, err)
	}
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Password string
}

// SMTPSender is the plain SMTP relay used when no Resend key is configured or Resend fails.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)

	contentType := "text/plain; charset=UTF-8"
	body := msg.Text
	if msg.HTML != "" {
		contentType = "text/html; charset=UTF-8"
		body = msg.HTML
	}

	raw := []byte("Subject: " + msg.Subject + "\r\n" +
		"From: " + s.cfg.From + "\r\n" +
		"To: " + strings.Join(msg.To, ", ") + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: " + contentType + "\r\n" +
		"\r\n" +
		body + "\r\n")

	if err := s.sendMail(s.cfg.Host+":"+s.cfg.Port, auth, s.cfg.From, msg.To, raw); err != nil {
		return fmt.Errorf("smtp %q: %w", msg.Subject, err)
	}
	return nil
}

// FallbackSender tries each sender in order and stops at the first success.
type FallbackSender struct {
	senders []Sender
	log     *logrus.Entry
}

func NewFallbackSender(log *logrus.Entry, senders ...Sender) *FallbackSender {
	return &FallbackSender{senders: senders, log: log}
}

func (f *FallbackSender) Send(ctx context.Context, msg Message) error {
	if len(f.senders) == 0 {
		return errors.New("no mail sender configured")
	}
	var errs []error
	for i, s := range f.senders {
		err := s.Send(ctx, msg)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		if i < len(f.senders)-1 {
			f.log.WithError(err).WithField("subject", msg.Subject).Warn("mail sender failed, trying next")
		}
	}
	return errors.Join(errs...)
}
