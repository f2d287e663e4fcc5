package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	slackTimeout = 5 * time.Second
	slackFooter  = "Tag Alarm Engine"
)

// SlackNotifier posts alarms to a Slack-compatible incoming webhook.
type SlackNotifier struct {
	url    string
	client *http.Client
}

// NewSlackNotifier returns a notifier for webhookURL. An empty URL yields a
// notifier that always reports ErrSkipped.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		url:    webhookURL,
		client: &http.Client{Timeout: slackTimeout},
	}
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *SlackNotifier) Send(ctx context.Context, a Alarm) error {
	if s.url == "" {
		return fmt.Errorf("%w: slack webhook url missing", ErrSkipped)
	}

	body, err := json.Marshal(slackMessage(a))
	if err != nil {
		return fmt.Errorf("slack: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

func slackMessage(a Alarm) slackPayload {
	return slackPayload{
		Attachments: []slackAttachment{{
			Color: priorityColor(a.Priority),
			Title: fmt.Sprintf("[%s] %s", a.Priority, a.RuleName),
			Text:  a.Message,
			Fields: []slackField{
				{Title: "Tag", Value: a.Tag, Short: true},
				{Title: "Value", Value: fmt.Sprint(a.Value), Short: true},
				{Title: "Condition", Value: a.Condition, Short: true},
				{Title: "Status", Value: a.Status, Short: true},
			},
			Footer: slackFooter,
			TS:     a.TriggeredAt.Unix(),
		}},
	}
}

func priorityColor(p string) string {
	switch p {
	case "INFO":
		return "#36a64f"
	case "WARNING":
		return "#ff9900"
	case "CRITICAL":
		return "#ff0000"
	default:
		return "#808080"
	}
}
