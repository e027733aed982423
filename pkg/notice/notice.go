// Package notice delivers out-of-band notifications to account owners,
// currently the generated password after a reset.
package notice

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the mail server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
}

const passwordResetSubject = "Your password was reset"

var passwordResetTemplate = template.Must(template.New("password_reset").Parse(
	`Hello {{.Username}},

The password for your account was reset. Your new password is:

    {{.Password}}

Please sign in and change it as soon as possible.
`))

// EmailNotifier mails generated reset passwords to the account owner.
type EmailNotifier struct {
	config SMTPConfig
	client *mail.Client
}

// NewEmailNotifier creates a notifier connected to the given SMTP server.
func NewEmailNotifier(config SMTPConfig) (*EmailNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(config.Port),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}

	if config.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts,
			mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			mail.WithTLSPolicy(mail.NoTLS),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		slog.Error("Failed to create mail client", "host", config.Host, "err", err)
		return nil, err
	}

	return &EmailNotifier{config: config, client: client}, nil
}

// NotifyPasswordReset mails the generated plaintext to the account's email
// address. Implements account.ResetNotifier.
func (e *EmailNotifier) NotifyPasswordReset(ctx context.Context, email, username, newPassword string) error {
	var body bytes.Buffer
	err := passwordResetTemplate.Execute(&body, map[string]string{
		"Username": username,
		"Password": newPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to render notification: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(e.config.From); err != nil {
		return fmt.Errorf("failed to set from address: %w", err)
	}
	if err := msg.To(email); err != nil {
		return fmt.Errorf("failed to set to address: %w", err)
	}
	msg.Subject(passwordResetSubject)
	msg.SetBodyString(mail.TypeTextPlain, body.String())

	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}
