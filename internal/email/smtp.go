package email

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/config"
)

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg config.SMTPConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendPrescriptionIssued(ctx context.Context, to, patientName, referenceNumber string, qrPNG []byte) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("Your prescription %s is ready", referenceNumber))
	m.SetBody("text/html", fmt.Sprintf(
		"<p>Dear %s,</p><p>Your prescription <b>%s</b> has been issued. "+
			"Present the attached QR code at the pharmacy to collect your medicines.</p>",
		patientName, referenceNumber,
	))
	m.Attach("prescription-qr.png",
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := io.Copy(w, bytes.NewReader(qrPNG))
			return err
		}),
	)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send issuance email: %w", err)
	}
	return nil
}

func (s *smtpService) SendCustom(ctx context.Context, to string, subject string, content string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", content)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
