package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

type SlackNotifier struct {
	WebhookURL string
	Template   string
}

func NewSlackNotifier(url, tmpl string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: url, Template: tmpl}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackPayload struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func (s *SlackNotifier) payload(ev Event) slackPayload {
	att := slackAttachment{
		Color:  "#36a64f",
		Title:  fmt.Sprintf("%s succeeded", ev.Operation),
		Footer: "eraport",
		Ts:     ev.Timestamp.Unix(),
	}
	if ev.Status == StatusError {
		att.Color = "#ff0000"
		att.Title = fmt.Sprintf("%s failed", ev.Operation)
		att.Text = "*Error:* " + ev.Error
	}

	add := func(title, value string, short bool) {
		if value != "" {
			att.Fields = append(att.Fields, slackField{Title: title, Value: value, Short: short})
		}
	}
	add("Target", ev.Target, true)
	add("Actor", ev.Actor, true)
	add("Detail", ev.Detail, false)
	add("Safety snapshot", ev.SafetySnapshot, false)
	add("Duration", ev.Duration.String(), true)
	if ev.Size > 0 {
		add("Size", formatSize(ev.Size), true)
	}
	return slackPayload{Attachments: []slackAttachment{att}}
}

func (s *SlackNotifier) Notify(ctx context.Context, ev Event) error {
	if s.WebhookURL == "" {
		return nil
	}

	var (
		body []byte
		err  error
	)
	if s.Template != "" {
		body, err = render("slack", s.Template, ev)
		if err != nil {
			return fmt.Errorf("failed to render slack template: %w", err)
		}
	} else {
		body, err = json.Marshal(s.payload(ev))
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack notification failed with status: %s", resp.Status)
	}
	return nil
}
