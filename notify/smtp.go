package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/panyam/userauth"
)

// SMTPConfig holds the relay settings for SMTPMailer
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// RequireTLS refuses to send over a connection that cannot be upgraded
	RequireTLS bool
}

// SMTPMailer sends multipart (text + html) email through an SMTP relay
type SMTPMailer struct {
	Config SMTPConfig
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	if config.Port == 0 {
		config.Port = 587
	}
	return &SMTPMailer{Config: config}
}

func (m *SMTPMailer) buildMessage(to, subject, text, html string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.Config.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	if html != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, html)
	}
	return msg, nil
}

func (m *SMTPMailer) client() (*mail.Client, error) {
	opts := []mail.Option{mail.WithPort(m.Config.Port)}
	if m.Config.RequireTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if m.Config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.Config.Username),
			mail.WithPassword(m.Config.Password),
		)
	}
	return mail.NewClient(m.Config.Host, opts...)
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, text, html string) error {
	msg, err := m.buildMessage(to, subject, text, html)
	if err != nil {
		return err
	}
	c, err := m.client()
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

var _ userauth.Mailer = (*SMTPMailer)(nil)
