package notify

import (
	"log/slog"

	"github.com/tagalarm/tagalarm/server/internal/config"
)

// FromConfig builds a Dispatcher with the log channel plus every channel
// enabled in cfg. Channels referenced by rules but not enabled here are
// reported as skipped at dispatch time.
func FromConfig(cfg config.NotificationsConfig, opts ...Option) *Dispatcher {
	d := NewDispatcher(opts...)

	if e := cfg.Email; e.Enabled {
		d.Register(ChannelEmail, NewEmailNotifier(EmailConfig{
			Host:     e.SMTPServer,
			Port:     e.SMTPPort,
			Username: e.Username,
			Password: e.EffectivePassword(),
			From:     e.From,
			To:       e.To,
		}))
		slog.Info("notify: email channel enabled", "server", e.SMTPServer, "recipients", len(e.To))
	}

	if s := cfg.Slack; s.Enabled {
		d.Register(ChannelSlack, NewSlackNotifier(s.URL()))
		slog.Info("notify: slack channel enabled", "configured", s.URL() != "")
	}

	if s := cfg.SMS; s.Enabled {
		d.Register(ChannelSMS, NewSMSNotifier(SMSConfig{
			AccountSID: s.AccountSID,
			AuthToken:  s.Token(),
			FromNumber: s.FromNumber,
			ToNumbers:  s.ToNumbers,
			BaseURL:    s.APIBaseURL,
		}))
		slog.Info("notify: sms channel enabled", "recipients", len(s.ToNumbers))
	}

	return d
}
