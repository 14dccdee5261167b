package notify

import (
	"github.com/Sandiman184/e-raport/internal/config"
)

// BuildNotifier returns nil when nothing is configured.
func BuildNotifier(cfg *config.Config) Notifier {
	var notifiers []Notifier

	if cfg.Notifications.Slack.WebhookURL != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.Notifications.Slack.WebhookURL, cfg.Notifications.Slack.Template))
	}

	for _, w := range cfg.Notifications.Webhooks {
		if w.URL != "" {
			notifiers = append(notifiers, NewWebhookNotifier(w.URL, w.Method, w.Template, w.Headers))
		}
	}

	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	}
	return &MultiNotifier{Notifiers: notifiers}
}
