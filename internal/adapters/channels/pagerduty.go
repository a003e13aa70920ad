package channels

import (
	"context"
	"net/http"
	"time"
)

// PagerDuty triggers incidents through the Events API v2
type PagerDuty struct {
	routingKey string
	eventsURL  string
	client     *http.Client
}

// NewPagerDuty creates a PagerDuty channel
func NewPagerDuty(routingKey, eventsURL string, client *http.Client) *PagerDuty {
	if eventsURL == "" {
		eventsURL = "https://events.pagerduty.com/v2/enqueue"
	}
	return &PagerDuty{routingKey: routingKey, eventsURL: eventsURL, client: client}
}

func (p *PagerDuty) Name() string     { return NamePagerDuty }
func (p *PagerDuty) Configured() bool { return p.routingKey != "" }

// Send triggers an incident. The dedup key folds repeats of the same
// (owner, anomaly type) into one PagerDuty incident.
func (p *PagerDuty) Send(ctx context.Context, alert *Alert) error {
	if !p.Configured() {
		return notConfigured(NamePagerDuty, "PAGERDUTY_ROUTING_KEY")
	}
	return postJSON(ctx, p.client, NamePagerDuty, p.eventsURL, pagerDutyPayload(p.routingKey, alert), nil)
}

type pagerDutyDetails struct {
	Summary   string         `json:"summary"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"`
	Timestamp string         `json:"timestamp"`
	Component string         `json:"component"`
	Group     string         `json:"group"`
	Class     string         `json:"class"`
	Custom    map[string]any `json:"custom_details"`
}

type pagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key"`
	Payload     pagerDutyDetails `json:"payload"`
}

func pagerDutyPayload(routingKey string, alert *Alert) pagerDutyEvent {
	return pagerDutyEvent{
		RoutingKey:  routingKey,
		EventAction: "trigger",
		DedupKey:    "costwatch:" + alert.DedupKey(),
		Payload: pagerDutyDetails{
			Summary:   alert.Title,
			Source:    "costwatch",
			Severity:  pagerDutySeverity(alert.Severity),
			Timestamp: alert.DetectedAt.UTC().Format(time.RFC3339),
			Component: alert.OwnerID,
			Group:     alert.Type,
			Class:     alert.MetricName,
			Custom: map[string]any{
				"current":    alert.Current,
				"baseline":   alert.Baseline,
				"confidence": alert.ConfidencePct,
				"summary":    alert.Summary,
			},
		},
	}
}

// pagerDutySeverity maps onto the four levels the Events API accepts
func pagerDutySeverity(severity string) string {
	switch severity {
	case "critical":
		return "critical"
	case "high":
		return "error"
	case "medium", "warning":
		return "warning"
	default:
		return "info"
	}
}
