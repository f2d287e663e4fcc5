package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

const (
	emailTimeout = 15 * time.Second

	// TimeLayout is how trigger times are rendered in message bodies.
	TimeLayout = "2006-01-02 15:04:05"
)

// EmailConfig holds SMTP relay settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier sends plain-text alarm mails through an SMTP relay. When
// both Username and Password are set the session is upgraded with STARTTLS
// and authenticated with AUTH PLAIN.
type EmailNotifier struct {
	cfg       EmailConfig
	tlsConfig *tls.Config
	now       func() time.Time
}

func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		cfg:       cfg,
		tlsConfig: &tls.Config{ServerName: cfg.Host},
		now:       time.Now,
	}
}

func (e *EmailNotifier) Send(ctx context.Context, a Alarm) error {
	if len(e.cfg.To) == 0 {
		return fmt.Errorf("%w: no email recipients", ErrSkipped)
	}

	ctx, cancel := context.WithTimeout(ctx, emailTimeout)
	defer cancel()

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: smtp handshake: %w", err)
	}
	defer c.Close()

	if e.cfg.Username != "" && e.cfg.Password != "" {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("email: %s does not offer STARTTLS", addr)
		}
		if err := c.StartTLS(e.tlsConfig); err != nil {
			return fmt.Errorf("email: starttls: %w", err)
		}
		if err := c.Auth(smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}

	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("email: MAIL FROM: %w", err)
	}
	for _, rcpt := range e.cfg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("email: RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: DATA: %w", err)
	}
	if _, err := w.Write(e.message(a)); err != nil {
		return fmt.Errorf("email: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: end DATA: %w", err)
	}
	return c.Quit()
}

// message renders headers and body with CRLF line endings.
func (e *EmailNotifier) message(a Alarm) []byte {
	subject := fmt.Sprintf("[%s] %s - %s", a.Priority, a.RuleName, a.Tag)

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(emailBody(a), "\n", "\r\n"))
	return b.Bytes()
}

func emailBody(a Alarm) string {
	return fmt.Sprintf(`Alarm: %s
Priority: %s
Tag: %s
Value: %v
Condition: %s
Message: %s
Time: %s
Status: %s
`,
		a.RuleName,
		a.Priority,
		a.Tag,
		a.Value,
		a.Condition,
		a.Message,
		a.TriggeredAt.Local().Format(TimeLayout),
		a.Status,
	)
}
