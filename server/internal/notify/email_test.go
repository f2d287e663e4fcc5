package notify

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"
)

type smtpSession struct {
	from  string
	rcpts []string
	data  string
}

// startSMTP runs a minimal single-session SMTP server that accepts one
// message. ext lists extra EHLO keywords to advertise.
func startSMTP(t *testing.T, ext ...string) (string, int, <-chan smtpSession) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	got := make(chan smtpSession, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serveSMTP(textproto.NewConn(conn), ext, got)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port, got
}

func serveSMTP(tp *textproto.Conn, ext []string, got chan<- smtpSession) {
	var s smtpSession
	_ = tp.PrintfLine("220 localhost ESMTP test")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			for _, e := range ext {
				_ = tp.PrintfLine("250-%s", e)
			}
			_ = tp.PrintfLine("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.rcpts = append(s.rcpts, strings.Trim(line[len("RCPT TO:"):], "<> "))
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 end with <CRLF>.<CRLF>")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.data = strings.Join(lines, "\n")
			_ = tp.PrintfLine("250 OK queued")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			got <- s
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func TestEmailNotifier_PlainSend(t *testing.T) {
	host, port, got := startSMTP(t)

	n := NewEmailNotifier(EmailConfig{
		Host: host,
		Port: port,
		From: "alarms@plant.local",
		To:   []string{"ops@plant.local", "oncall@plant.local"},
	})
	a := testAlarm()
	if err := n.Send(context.Background(), a); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var s smtpSession
	select {
	case s = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("smtp session not completed")
	}

	if s.from != "alarms@plant.local" {
		t.Errorf("MAIL FROM: got %q", s.from)
	}
	if len(s.rcpts) != 2 {
		t.Fatalf("RCPT TO: got %v, want 2 recipients", s.rcpts)
	}
	for _, want := range []string{
		"Subject: [CRITICAL] High Temp - Temperature",
		"To: ops@plant.local, oncall@plant.local",
		"Alarm: High Temp",
		"Priority: CRITICAL",
		"Tag: Temperature",
		"Value: 30",
		"Condition: > 25",
		"Message: Temperature is too high!",
		"Time: " + a.TriggeredAt.Local().Format(TimeLayout),
		"Status: ACTIVE",
	} {
		if !strings.Contains(s.data, want) {
			t.Errorf("message missing %q\n%s", want, s.data)
		}
	}
}

func TestEmailNotifier_NoRecipientsSkipped(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{Host: "127.0.0.1", Port: 1, From: "a@b"})
	if err := n.Send(context.Background(), testAlarm()); !errors.Is(err, ErrSkipped) {
		t.Errorf("got %v, want ErrSkipped", err)
	}
}

func TestEmailNotifier_CredentialsRequireStartTLS(t *testing.T) {
	host, port, _ := startSMTP(t)

	n := NewEmailNotifier(EmailConfig{
		Host:     host,
		Port:     port,
		Username: "user",
		Password: "pass",
		From:     "alarms@plant.local",
		To:       []string{"ops@plant.local"},
	})
	err := n.Send(context.Background(), testAlarm())
	if err == nil || !strings.Contains(err.Error(), "STARTTLS") {
		t.Errorf("got %v, want STARTTLS error", err)
	}
}

func TestEmailNotifier_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	n := NewEmailNotifier(EmailConfig{Host: "127.0.0.1", Port: port, From: "a@b", To: []string{"c@d"}})
	err = n.Send(context.Background(), testAlarm())
	if err == nil {
		t.Fatal("expected dial error, got nil")
	}
	if errors.Is(err, ErrSkipped) {
		t.Error("dial failure must not be reported as skipped")
	}
}
