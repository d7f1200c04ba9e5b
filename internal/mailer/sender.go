// Package mailer provides the outbound send primitive and newsletter
// content generation.
package mailer

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"lettercast/internal/common/logging"
)

// Message is the payload handed to the send primitive.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Sender is the fire-and-confirm send primitive the delivery queue
// drives. Implementations return an error on any non-delivery; error
// text is inspected by the queue's bounce classifier.
type Sender interface {
	Send(to string, msg Message) error
}

// SMTPConfig holds settings for the SMTP sender.
type SMTPConfig struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	FromName   string
	UseTLS     bool // STARTTLS
	UseSSL     bool // implicit TLS
	SkipVerify bool
}

// SMTPSender sends multipart text+HTML mail over SMTP.
type SMTPSender struct {
	config SMTPConfig
	logger logging.Logger
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(config SMTPConfig, logger logging.Logger) *SMTPSender {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SMTPSender{config: config, logger: logger}
}

// Send delivers one message to one recipient.
func (s *SMTPSender) Send(to string, msg Message) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("From: %s\r\n", from))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", to))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/alternative; boundary=\"lcboundary\"\r\n")
	sb.WriteString("\r\n")

	sb.WriteString("--lcboundary\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Text + "\r\n")

	sb.WriteString("--lcboundary\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.HTML + "\r\n")
	sb.WriteString("--lcboundary--")

	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)
	body := []byte(sb.String())

	if s.config.UseSSL {
		return s.sendWithSSL(addr, s.config.From, []string{to}, body)
	}
	return s.sendPlain(addr, s.config.From, []string{to}, body)
}

// sendPlain dials without TLS, upgrading via STARTTLS only when
// configured to and the server offers it.
func (s *SMTPSender) sendPlain(addr, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName:         s.config.Host,
				InsecureSkipVerify: s.config.SkipVerify,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS negotiation failed: %w", err)
			}
		}
	}

	if err := s.authenticate(client); err != nil {
		return err
	}
	return s.submit(client, from, to, msg)
}

// sendWithSSL sends using implicit TLS.
func (s *SMTPSender) sendWithSSL(addr, from string, to []string, msg []byte) error {
	host := s.config.Host
	port, _ := strconv.Atoi(s.config.Port)

	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: s.config.SkipVerify,
	}

	conn, err := tls.Dial("tcp", fmt.Sprintf("%s:%d", host, port), tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if err := s.authenticate(client); err != nil {
		return err
	}
	return s.submit(client, from, to, msg)
}

func (s *SMTPSender) authenticate(client *smtp.Client) error {
	if s.config.Username == "" {
		return nil
	}
	if ok, _ := client.Extension("AUTH"); !ok {
		return nil
	}
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	return nil
}

func (s *SMTPSender) submit(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

// ValidateAddress performs basic email address validation.
func ValidateAddress(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	if len(parts[0]) == 0 {
		return false
	}
	return strings.Contains(parts[1], ".")
}
