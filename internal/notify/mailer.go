package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"
	mail "github.com/wneessen/go-mail"

	"gate-controller/internal/domain/gate"
)

// Config holds the SMTP parameters.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Mailer sends the operator notification over SMTP with the gate
// snapshot attached, resized so mailboxes don't fill with full-size
// camera frames.
type Mailer struct {
	cfg Config
	log zerolog.Logger
}

func NewMailer(cfg Config, log zerolog.Logger) *Mailer {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	return &Mailer{cfg: cfg, log: log}
}

// Notify delivers one notification. Attachment problems degrade to a
// text-only message; the caller treats any returned error as
// report-only, never as a decision failure.
func (m *Mailer) Notify(ctx context.Context, n gate.NotificationEvent) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return fmt.Errorf("setting recipient: %w", err)
	}
	msg.Subject(n.Subject)
	msg.SetBodyString(mail.TypeTextPlain, n.Body)

	if n.Record.ImageRef != "" {
		if data, err := thumbnailJPEG(n.Record.ImageRef, 600, 600); err != nil {
			m.log.Warn().Err(err).Str("image", n.Record.ImageRef).Msg("sending notification without attachment")
		} else if err := msg.AttachReader("snapshot.jpg", bytes.NewReader(data)); err != nil {
			m.log.Warn().Err(err).Msg("attaching snapshot failed")
		}
	}

	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	m.log.Info().Str("subject", n.Subject).Str("to", m.cfg.To).Msg("notification sent")
	return nil
}
