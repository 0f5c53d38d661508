package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"iotsentry/internal/config"
	"iotsentry/internal/model"
)

// EmailNotifier delivers alert summaries over SMTP. The recipient list is
// a comma-separated string in the config.
type EmailNotifier struct {
	cfg config.SMTPConfig
}

// NewEmailNotifier creates an email-backed Notifier from SMTP settings.
func NewEmailNotifier(cfg config.SMTPConfig) model.Notifier {
	return &EmailNotifier{cfg: cfg}
}

// Send delivers one HTML message to every configured recipient.
func (n *EmailNotifier) Send(subject, body string) error {
	recipients := strings.Split(n.cfg.To, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	if err := smtp.SendMail(addr, auth, n.cfg.From, recipients, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// FormatAlertSummary renders a consolidated HTML body for a batch of
// alerts, one section per alert.
func FormatAlertSummary(alerts []*model.Alert) (subject, body string) {
	subject = fmt.Sprintf("IoT Sentry Alert Summary (%d Triggered)", len(alerts))

	var sections []string
	for _, a := range alerts {
		sections = append(sections, fmt.Sprintf(
			"<h3>%s (%s)</h3><p>Device %d: %s</p><p><i>%s</i></p>",
			a.AlertType, a.Severity, a.DeviceID, a.Message, a.Timestamp.Format("2006-01-02 15:04:05")))
	}

	body = "<h1>IoT Sentry Alert Summary</h1>" +
		"<p>The following alerts were triggered during the last cycle:</p><hr>" +
		strings.Join(sections, "<hr>")
	return subject, body
}
