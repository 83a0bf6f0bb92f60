package mail

import (
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"

	"github.com/OlgaBilynska/REST-API-app/pkg/config"
)

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	client *gomail.Client
	from   string
}

// NewSMTPSender builds a sender from configuration. TLS is negotiated
// opportunistically unless disabled, which local relays like Mailpit need.
func NewSMTPSender(cfg config.Config) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.SMTPDisableTLS {
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTPUsername),
			gomail.WithPassword(cfg.SMTPPassword),
		)
	}
	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.SMTPFrom}, nil
}

// SendVerificationEmail sends the verify-your-address message.
func (s *SMTPSender) SendVerificationEmail(ctx context.Context, to, link string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject("Verify email")
	msg.SetBodyString(gomail.TypeTextHTML,
		fmt.Sprintf(`<a target="_blank" href="%s">Click here to verify.</a>`, link))
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

var _ Sender = (*SMTPSender)(nil)
