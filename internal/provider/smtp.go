package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/baechuer/notification-fabric/internal/config"
	"github.com/google/uuid"
)

// SMTPProvider sends email over a raw SMTP session. With StartTLS set it
// dials plain and upgrades (port 587); otherwise it expects an
// implicit-TLS endpoint (port 465).
type SMTPProvider struct {
	host     string
	port     int
	username string
	password string
	startTLS bool
	from     string
	fromName string
	timeout  time.Duration
}

func NewSMTPProvider(cfg *config.Config) (*SMTPProvider, error) {
	if cfg.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP_HOST is required")
	}

	return &SMTPProvider{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		startTLS: cfg.SMTPStartTLS,
		from:     cfg.FromAddress,
		fromName: cfg.FromName,
		timeout:  cfg.HTTPTimeout,
	}, nil
}

// Send delivers the message through one SMTP session. Connection, TLS and
// auth failures are transient; sender/recipient rejections are not.
func (p *SMTPProvider) Send(ctx context.Context, msg *Message) SendResult {
	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), p.host)

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	client, res := p.connect(addr, deadline)
	if client == nil {
		return res
	}
	defer client.Close()

	if p.username != "" && p.password != "" {
		auth := smtp.PlainAuth("", p.username, p.password, p.host)
		if err := client.Auth(auth); err != nil {
			return failure(p.Name(), fmt.Sprintf("smtp auth failed: %v", err), true)
		}
	}

	if err := client.Mail(p.from); err != nil {
		return failure(p.Name(), fmt.Sprintf("sender rejected: %v", err), false)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return failure(p.Name(), fmt.Sprintf("recipient rejected: %v", err), false)
	}

	w, err := client.Data()
	if err != nil {
		return failure(p.Name(), fmt.Sprintf("smtp data failed: %v", err), true)
	}
	if _, err := w.Write(p.buildMessage(msg, messageID)); err != nil {
		_ = w.Close()
		return failure(p.Name(), fmt.Sprintf("smtp write failed: %v", err), true)
	}
	if err := w.Close(); err != nil {
		return failure(p.Name(), fmt.Sprintf("smtp commit failed: %v", err), true)
	}

	_ = client.Quit()

	return SendResult{OK: true, MessageID: messageID, Provider: p.Name()}
}

// connect establishes the session per the TLS mode. Returns a nil client
// with a populated failure result on error.
func (p *SMTPProvider) connect(addr string, deadline time.Time) (*smtp.Client, SendResult) {
	dialer := &net.Dialer{Deadline: deadline}

	if p.startTLS {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, failure(p.Name(), fmt.Sprintf("smtp dial failed: %v", err), true)
		}
		_ = conn.SetDeadline(deadline)

		client, err := smtp.NewClient(conn, p.host)
		if err != nil {
			_ = conn.Close()
			return nil, failure(p.Name(), fmt.Sprintf("smtp handshake failed: %v", err), true)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: p.host}); err != nil {
				_ = client.Close()
				return nil, failure(p.Name(), fmt.Sprintf("starttls failed: %v", err), true)
			}
		}
		return client, SendResult{}
	}

	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: p.host})
	if err != nil {
		return nil, failure(p.Name(), fmt.Sprintf("smtp tls dial failed: %v", err), true)
	}
	_ = conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		_ = conn.Close()
		return nil, failure(p.Name(), fmt.Sprintf("smtp handshake failed: %v", err), true)
	}
	return client, SendResult{}
}

// buildMessage assembles the RFC 5322 payload: multipart/alternative when
// both bodies are present, a single part otherwise.
func (p *SMTPProvider) buildMessage(msg *Message, messageID string) []byte {
	var b strings.Builder

	fromHeader := p.from
	if p.fromName != "" {
		fromHeader = fmt.Sprintf("%s <%s>", p.fromName, p.from)
	}

	fmt.Fprintf(&b, "From: %s\r\n", fromHeader)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.BodyHTML != "" && msg.BodyText != "":
		boundary := strings.ReplaceAll(uuid.New().String(), "-", "")
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyText)
		fmt.Fprintf(&b, "\r\n--%s\r\n", boundary)
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyHTML)
		fmt.Fprintf(&b, "\r\n--%s--\r\n", boundary)
	case msg.BodyHTML != "":
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyHTML)
		b.WriteString("\r\n")
	default:
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.BodyText)
		b.WriteString("\r\n")
	}

	return []byte(b.String())
}

// Name returns the provider name
func (p *SMTPProvider) Name() string {
	return "smtp"
}
