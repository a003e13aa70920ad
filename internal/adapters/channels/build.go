package channels

import (
	"net/http"

	"costwatch/internal/adapters/config"
)

// FromConfig builds every alert channel. Channels without credentials are
// still returned; they report Configured() == false and get skipped.
func FromConfig(cfg config.AlertingConfig, client *http.Client) map[string]Channel {
	if client == nil {
		client = NewHTTPClient(cfg.ChannelTimeout)
	}
	return map[string]Channel{
		NameSlack:     NewSlack(cfg.Slack.WebhookURL, client),
		NameDiscord:   NewDiscord(cfg.Discord.WebhookURL, client),
		NameTelegram:  NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIEndpoint, client),
		NamePagerDuty: NewPagerDuty(cfg.PagerDuty.RoutingKey, cfg.PagerDuty.EventsURL, client),
		NameEmail:     NewEmail(cfg.Email.APIKey, cfg.Email.APIURL, cfg.Email.From, cfg.Email.To, client),
		NameWebhook:   NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret, client),
	}
}
