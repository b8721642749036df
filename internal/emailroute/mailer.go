package emailroute

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig is the connection detail for outbound delivery. TLS selects
// implicit TLS (SMTPS, typically port 465) via tls.Dial; when false,
// smtp.SendMail is used, which negotiates STARTTLS itself on port 587.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// Mailer delivers auto-reply and notification email with the signed
// X-Agent-* headers from SignAgentHeaders attached, so a recipient's reply
// can be routed back via SecureReplyResolver. Reloads its configuration on
// every Send so changes take effect without restarting the agent host.
type Mailer struct {
	loader func() (*SMTPConfig, error)
}

// NewMailer constructs a Mailer that calls loader for the current SMTP
// configuration on every Send.
func NewMailer(loader func() (*SMTPConfig, error)) *Mailer {
	return &Mailer{loader: loader}
}

// Send delivers subject/body to every address in to, attaching headers
// (typically produced by SignAgentHeaders) to the composed message.
func (m *Mailer) Send(to []string, subject, body string, headers map[string]string) error {
	if len(to) == 0 {
		return nil
	}

	cfg, err := m.loader()
	if err != nil {
		return fmt.Errorf("emailroute: loading smtp config: %w", err)
	}

	msg := buildEmail(cfg.From, to, subject, body, headers)
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	if cfg.TLS {
		return sendTLS(addr, cfg, to, msg)
	}
	return sendPlain(addr, cfg, to, msg)
}

func sendPlain(addr string, cfg *SMTPConfig, to []string, msg []byte) error {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, cfg.From, to, msg); err != nil {
		return fmt.Errorf("emailroute: smtp.SendMail: %w", err)
	}
	return nil
}

func sendTLS(addr string, cfg *SMTPConfig, to []string, msg []byte) error {
	tlsCfg := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}

	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("emailroute: tls.Dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		return fmt.Errorf("emailroute: smtp.NewClient: %w", err)
	}
	defer client.Close()

	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("emailroute: smtp auth: %w", err)
		}
	}

	if err := client.Mail(cfg.From); err != nil {
		return fmt.Errorf("emailroute: MAIL FROM: %w", err)
	}
	for _, r := range to {
		if err := client.Rcpt(r); err != nil {
			return fmt.Errorf("emailroute: RCPT TO %s: %w", r, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("emailroute: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("emailroute: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("emailroute: close DATA: %w", err)
	}
	return client.Quit()
}

// buildEmail composes a minimal RFC 5322 message, embedding extraHeaders
// (the signed X-Agent-* set) ahead of the standard headers.
func buildEmail(from string, to []string, subject, body string, extraHeaders map[string]string) []byte {
	var sb strings.Builder
	for k, v := range extraHeaders {
		sb.WriteString(k + ": " + v + "\r\n")
	}
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}
