package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Mailer is the delivery collaborator: the reset flow hands it a raw code
// and an address and does not care how it travels.
type Mailer interface {
	SendOtp(ctx context.Context, to, name, code string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (m *SMTPMailer) SendOtp(ctx context.Context, to, name, code string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject("Your password reset code")
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Hi %s,\n\nYour password reset code is %s. It expires in 10 minutes.\n\nIf you did not request this, you can ignore this message.\n",
		name, code,
	))
	return m.client.DialAndSendWithContext(ctx, msg)
}
