package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"

	"maru/identity"
)

// Config holds the SMTP connection settings. The mailer runs disabled when
// any of them is empty, logging sends instead of delivering them.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	BaseURL  string
}

func (cfg Config) enabled() bool {
	return cfg.Host != "" && cfg.Port != "" && cfg.Username != "" && cfg.Password != "" && cfg.From != ""
}

// SMTPMailer delivers identity emails over SMTP. Sends happen on their own
// goroutine so callers never block on the mail server.
type SMTPMailer struct {
	cfg     Config
	enabled bool
}

var _ identity.Mailer = (*SMTPMailer)(nil)

func New(cfg Config) *SMTPMailer {
	enabled := cfg.enabled()
	if !enabled {
		slog.Warn("mailer disabled, smtp settings are incomplete")
	}

	return &SMTPMailer{
		cfg:     cfg,
		enabled: enabled,
	}
}

var verificationTmpl = template.Must(template.New("verification").Parse(`<p>Welcome!</p>
<p>Please confirm your email address to start posting:</p>
<p><a href="{{.Link}}">Verify my email</a></p>
<p>If you did not create this account, you can ignore this message.</p>
`))

var passwordResetTmpl = template.Must(template.New("reset").Parse(`<p>A password reset was requested for your account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>This link expires in one hour. If you did not request a reset, you can ignore this message.</p>
`))

func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", m.cfg.BaseURL, token)

	body, err := renderTemplate(verificationTmpl, map[string]string{"Link": link})
	if err != nil {
		return fmt.Errorf("failed to render verification email: %w", err)
	}

	m.sendAsync(ctx, email, "Please verify your email address", body)

	return nil
}

func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", m.cfg.BaseURL, token)

	body, err := renderTemplate(passwordResetTmpl, map[string]string{"Link": link})
	if err != nil {
		return fmt.Errorf("failed to render password reset email: %w", err)
	}

	m.sendAsync(ctx, email, "Reset your password", body)

	return nil
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer

	err := tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

func (m *SMTPMailer) sendAsync(ctx context.Context, to, subject, body string) {
	if !m.enabled {
		slog.InfoContext(ctx, "mailer disabled, skipping send", "to", to, "subject", subject)

		return
	}

	go func() {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		addr := m.cfg.Host + ":" + m.cfg.Port

		msg := []byte(fmt.Sprintf(
			"To: %s\r\nFrom: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
			to, m.cfg.From, subject, body,
		))

		err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg)
		if err != nil {
			slog.Error("failed to send email", "to", to, "subject", subject, "error", err)

			return
		}

		slog.Info("email sent", "to", to, "subject", subject)
	}()
}
