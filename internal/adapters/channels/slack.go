package channels

import (
	"context"
	"fmt"
	"net/http"

	"costwatch/pkg/templates"
)

// Slack posts color-coded attachments with Block Kit content to an incoming webhook
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a Slack channel
func NewSlack(webhookURL string, client *http.Client) *Slack {
	return &Slack{webhookURL: webhookURL, client: client}
}

func (s *Slack) Name() string     { return NameSlack }
func (s *Slack) Configured() bool { return s.webhookURL != "" }

// Send posts the alert
func (s *Slack) Send(ctx context.Context, alert *Alert) error {
	if !s.Configured() {
		return notConfigured(NameSlack, "SLACK_WEBHOOK_URL")
	}
	return postJSON(ctx, s.client, NameSlack, s.webhookURL, slackPayload(alert), nil)
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Blocks   []slackBlock `json:"blocks"`
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

func slackPayload(alert *Alert) slackMessage {
	title := templates.EscapeSlack(alert.Title)
	return slackMessage{
		Text: title,
		Attachments: []slackAttachment{{
			Color:    severityHex(alert.Severity),
			Fallback: title,
			Blocks: []slackBlock{
				{Type: "header", Text: &slackText{Type: "plain_text", Text: templates.Truncate(alert.Title, 150)}},
				{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "```" + templates.EscapeSlack(alert.Body) + "```"}},
				{Type: "context", Elements: []slackText{{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*%s* · confidence %.0f%% · owner `%s`",
						alert.Severity, alert.ConfidencePct, templates.EscapeSlack(alert.OwnerID)),
				}}},
			},
		}},
	}
}

// severityHex maps severity to an attachment color
func severityHex(severity string) string {
	switch severity {
	case "critical":
		return "#D00000"
	case "high":
		return "#FF6D00"
	case "medium", "warning":
		return "#FFB703"
	default:
		return "#2A9D8F"
	}
}
