package channels

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"costwatch/pkg/templates"
)

// Discord posts a rich embed to a Discord webhook
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a Discord channel
func NewDiscord(webhookURL string, client *http.Client) *Discord {
	return &Discord{webhookURL: webhookURL, client: client}
}

func (d *Discord) Name() string     { return NameDiscord }
func (d *Discord) Configured() bool { return d.webhookURL != "" }

// Send posts the alert
func (d *Discord) Send(ctx context.Context, alert *Alert) error {
	if !d.Configured() {
		return notConfigured(NameDiscord, "DISCORD_WEBHOOK_URL")
	}
	return postJSON(ctx, d.client, NameDiscord, d.webhookURL, discordPayload(alert), nil)
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

func discordPayload(alert *Alert) discordMessage {
	color, _ := strconv.ParseInt(strings.TrimPrefix(severityHex(alert.Severity), "#"), 16, 32)
	return discordMessage{
		Username: "costwatch",
		Embeds: []discordEmbed{{
			Title:       templates.Truncate(alert.Title, 256),
			Description: templates.Truncate(alert.Summary, 4096),
			Color:       int(color),
			Fields: []discordField{
				{Name: "Metric", Value: alert.MetricName, Inline: true},
				{Name: "Current", Value: alert.Current, Inline: true},
				{Name: "Baseline", Value: alert.Baseline, Inline: true},
				{Name: "Severity", Value: alert.Severity, Inline: true},
				{Name: "Owner", Value: alert.OwnerID, Inline: true},
			},
			Timestamp: alert.DetectedAt.UTC().Format(time.RFC3339),
		}},
	}
}
