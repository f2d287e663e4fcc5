package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultSMSBaseURL is the Twilio REST API root.
	DefaultSMSBaseURL = "https://api.twilio.com"

	smsTimeout = 10 * time.Second
)

// SMSConfig holds Twilio-style account credentials and numbers.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	ToNumbers  []string

	// BaseURL overrides DefaultSMSBaseURL.
	BaseURL string
}

// SMSNotifier sends one text message per destination number.
type SMSNotifier struct {
	cfg    SMSConfig
	client *http.Client
}

func NewSMSNotifier(cfg SMSConfig) *SMSNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSMSBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SMSNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: smsTimeout},
	}
}

func (s *SMSNotifier) Send(ctx context.Context, a Alarm) error {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" || s.cfg.FromNumber == "" || len(s.cfg.ToNumbers) == 0 {
		return fmt.Errorf("%w: sms credentials or numbers missing", ErrSkipped)
	}

	body := summary(a)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID))

	var errs []error
	for _, to := range s.cfg.ToNumbers {
		if err := s.post(ctx, endpoint, to, body); err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SMSNotifier) post(ctx context.Context, endpoint, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
