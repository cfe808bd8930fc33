package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/mqxerror/qa-guardian-sub011/internal/models"
	"github.com/mqxerror/qa-guardian-sub011/pkg/utils"
)

// EmailSenderConfig holds SMTP settings
type EmailSenderConfig struct {
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

// EmailSender delivers notifications over SMTP
type EmailSender struct {
	config *EmailSenderConfig

	// sendMail is swappable in tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender creates an email sender
func NewEmailSender(config *DispatcherConfig) *EmailSender {
	cfg := config.Email
	if cfg == nil {
		cfg = &EmailSenderConfig{}
	}
	return &EmailSender{
		config:   cfg,
		sendMail: smtp.SendMail,
	}
}

// Send delivers the payload to the destination's recipients
func (es *EmailSender) Send(ctx context.Context, dest *models.EmailDestinationConfig, payload *Payload) error {
	if es.config.SMTPHost == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "SMTP host not configured", "")
	}
	if dest == nil || len(dest.Recipients) == 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Email destination has no recipients", "")
	}

	subject := dest.Subject
	if subject == "" {
		subject = payload.Title
	}

	msg := es.buildMessage(dest.Recipients, subject, payload)
	addr := fmt.Sprintf("%s:%d", es.config.SMTPHost, es.config.SMTPPort)

	var auth smtp.Auth
	if es.config.Username != "" {
		auth = smtp.PlainAuth("", es.config.Username, es.config.Password, es.config.SMTPHost)
	}

	if err := es.sendMail(addr, auth, es.config.From, dest.Recipients, msg); err != nil {
		return utils.NewAppError(utils.ErrCodeDispatch, "SMTP delivery failed", err.Error())
	}
	return nil
}

func (es *EmailSender) buildMessage(recipients []string, subject string, payload *Payload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", es.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(payload.Message)
	if payload.Severity != "" {
		fmt.Fprintf(&b, "\r\n\r\nSeverity: %s", payload.Severity)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
