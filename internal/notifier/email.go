package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// EmailSender delivers notifications through the SMTP relay described by
// each Email configuration.
type EmailSender struct {
	templates   *Templates
	dialTimeout time.Duration
}

// NewEmailSender creates an email sender with the embedded templates.
func NewEmailSender() (*EmailSender, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &EmailSender{
		templates:   templates,
		dialTimeout: 30 * time.Second,
	}, nil
}

// Channel returns ChannelEmail.
func (e *EmailSender) Channel() models.Channel {
	return models.ChannelEmail
}

// DeliveryPath returns "Email".
func (e *EmailSender) DeliveryPath(models.DeliveryConfig) string {
	return string(models.ChannelEmail)
}

// Validate checks the relay credentials.
func (e *EmailSender) Validate(cfg models.DeliveryConfig) error {
	switch {
	case cfg.SMTPHost == "":
		return fmt.Errorf("%w: %s: SMTP host is required", ErrConfig, cfg.ID)
	case cfg.SMTPPort == 0:
		return fmt.Errorf("%w: %s: SMTP port is required", ErrConfig, cfg.ID)
	case cfg.Address == "":
		return fmt.Errorf("%w: %s: account address is required", ErrConfig, cfg.ID)
	case cfg.Token == "":
		return fmt.Errorf("%w: %s: account token is required", ErrConfig, cfg.ID)
	case cfg.From == "":
		return fmt.Errorf("%w: %s: from address is required", ErrConfig, cfg.ID)
	}
	return nil
}

// Send mails n to the user's address.
func (e *EmailSender) Send(ctx context.Context, cfg models.DeliveryConfig, to *models.User, n *models.Notification) error {
	data := NotificationToTemplateData(cfg, n)

	htmlBody, err := e.templates.RenderHTML(data)
	if err != nil {
		return fmt.Errorf("%w: render HTML template: %v", ErrConfig, err)
	}

	plainBody, err := e.templates.RenderPlain(data)
	if err != nil {
		return fmt.Errorf("%w: render plain template: %v", ErrConfig, err)
	}

	msg := buildMIMEMessage(cfg.From, to.Email, data.Subject, plainBody, htmlBody)
	return e.sendMail(ctx, cfg, to.Email, msg)
}

// buildMIMEMessage builds a MIME multipart message with HTML and plain text.
func buildMIMEMessage(from, to, subject, plainBody, htmlBody string) []byte {
	boundary := fmt.Sprintf("----=_Part_%d", time.Now().UnixNano())

	var msg strings.Builder

	// Headers
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	msg.WriteString("\r\n")

	// Plain text part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(plainBody)
	msg.WriteString("\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	msg.WriteString("\r\n")

	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return []byte(msg.String())
}

// sendMail sends the message via SMTP.
func (e *EmailSender) sendMail(ctx context.Context, cfg models.DeliveryConfig, rcpt string, msg []byte) error {
	addr := net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort))
	tlsConfig := &tls.Config{ServerName: cfg.SMTPHost}

	var client *smtp.Client
	var err error
	if cfg.SMTPPort == 465 {
		// Implicit TLS (SMTPS)
		client, err = e.connectImplicitTLS(ctx, addr, cfg.SMTPHost, tlsConfig)
	} else {
		// STARTTLS (port 587 or 25)
		client, err = e.connectSTARTTLS(ctx, addr, cfg.SMTPHost, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	auth := smtp.PlainAuth("", cfg.Address, cfg.Token, cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	if err := client.Mail(extractEmail(cfg.From)); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}

	return client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (e *EmailSender) connectImplicitTLS(ctx context.Context, addr, host string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: e.dialTimeout},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, host)
}

// connectSTARTTLS connects in plain text and upgrades when offered.
func (e *EmailSender) connectSTARTTLS(ctx context.Context, addr, host string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: e.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}

	return client, nil
}

// extractEmail extracts the email address from a "Name <email>" format.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}
