package mailer

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
)

const dialTimeout = 30 * time.Second

// Service delivers check reports over SMTP. The transport is configured
// once from [notify]; per-send failures are returned to the caller and
// never retried here.
type Service struct {
	config *common.Config
	logger arbor.ILogger
}

// NewService creates an SMTP mailer.
func NewService(config *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

// Enabled reports whether the transport has a host and sender configured.
func (s *Service) Enabled() bool {
	return s.config.Notify.Enabled()
}

// Send delivers one message to all recipients. The body is sent as
// multipart/alternative when both HTML and text are present.
func (s *Service) Send(ctx context.Context, recipients []string, subject, htmlBody, textBody string) error {
	if !s.Enabled() {
		return fmt.Errorf("mail transport is not configured")
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients given")
	}

	cfg := &s.config.Notify
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort)
	msg := s.buildMessage(recipients, subject, htmlBody, textBody)

	client, err := s.connect(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.SMTPUsername != "" {
		auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}

	if err := client.Mail(envelopeAddress(cfg.Sender)); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("failed to close smtp session: %w", err)
	}

	s.logger.Info().
		Int("recipients", len(recipients)).
		Str("subject", subject).
		Msg("Email sent")

	return nil
}

// connect dials the server, using implicit TLS on 465 and a STARTTLS
// upgrade elsewhere when the server offers it.
func (s *Service) connect(ctx context.Context, addr string) (*smtp.Client, error) {
	cfg := &s.config.Notify
	dialer := &net.Dialer{Timeout: dialTimeout}

	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if cfg.SMTPUseSSL || cfg.SMTPPort == 465 {
		tlsConn := tls.Client(rawConn, &tls.Config{ServerName: cfg.SMTPHost})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
		}
		client, err := smtp.NewClient(tlsConn, cfg.SMTPHost)
		if err != nil {
			tlsConn.Close()
			return nil, fmt.Errorf("failed to create smtp client: %w", err)
		}
		return client, nil
	}

	client, err := smtp.NewClient(rawConn, cfg.SMTPHost)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	if cfg.SMTPUseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.SMTPHost}); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	return client, nil
}

// buildMessage assembles the RFC 5322 message. Bodies are base64 encoded
// with 76-column wrapping so long rendered HTML lines survive every relay.
func (s *Service) buildMessage(recipients []string, subject, htmlBody, textBody string) []byte {
	cfg := &s.config.Notify

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", cfg.Sender))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject)))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))

	if htmlBody != "" {
		boundary := generateBoundary()
		msg.WriteString("MIME-Version: 1.0\r\n")
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", boundary))
		msg.WriteString("\r\n")

		if textBody != "" {
			msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
			msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
			msg.WriteString("Content-Transfer-Encoding: base64\r\n")
			msg.WriteString("\r\n")
			msg.WriteString(encodeBase64WithLineBreaks(textBody))
			msg.WriteString("\r\n")
		}

		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(htmlBody))
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(textBody)
	}

	return []byte(msg.String())
}

// envelopeAddress extracts the bare address from a "Name <addr>" sender for
// the MAIL FROM command.
func envelopeAddress(sender string) string {
	if parsed, err := mail.ParseAddress(sender); err == nil {
		return parsed.Address
	}
	return sender
}

// generateBoundary creates a unique MIME boundary that cannot collide with
// rendered content.
func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "vigil_boundary_fallback"
	}
	return fmt.Sprintf("vigil_%x", b)
}

// encodeBase64WithLineBreaks encodes content with 76-character lines per
// RFC 2045.
func encodeBase64WithLineBreaks(content string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(content))

	var result strings.Builder
	const lineLen = 76
	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		result.WriteString(encoded[i:end])
		if end < len(encoded) {
			result.WriteString("\r\n")
		}
	}
	return result.String()
}
