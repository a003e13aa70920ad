package mitigationservice

import (
	"context"

	"costwatch/internal/adapters/channels"
	"costwatch/internal/domain/anomaly"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
	"costwatch/pkg/templates"
)

// Notice tells the operator what the circuit breaker did
type Notice struct {
	OwnerID     string
	AnomalyType string
	Severity    string
	Actions     []NoticeAction
	Record      *anomaly.Record
}

// NoticeAction is one line of a notice
type NoticeAction struct {
	Name   string
	Detail string
}

// Notifier reaches the operator audience, separate from alert channels
type Notifier interface {
	Notify(ctx context.Context, notice *Notice) error
}

// ChannelNotifier delivers notices through an alert channel, usually the operator webhook.
// When the channel is not configured the notice is written to the log instead.
type ChannelNotifier struct {
	channel channels.Channel
	log     *logger.Logger
}

// NewChannelNotifier creates a notifier over ch; ch may be nil
func NewChannelNotifier(ch channels.Channel, log *logger.Logger) *ChannelNotifier {
	if log == nil {
		log = logger.Get()
	}
	return &ChannelNotifier{channel: ch, log: log.With("component", "operator_notifier")}
}

// Notify renders and sends the notice
func (n *ChannelNotifier) Notify(ctx context.Context, notice *Notice) error {
	text, err := templates.Get().Render("mitigation/operator_notice", notice)
	if err != nil {
		return errors.Wrap(err, "render operator notice")
	}

	if n.channel == nil || !n.channel.Configured() {
		n.log.Warnw("Circuit breaker notice (no operator channel configured)",
			"owner_id", notice.OwnerID,
			"anomaly_type", notice.AnomalyType,
			"severity", notice.Severity,
			"notice", text,
		)
		return nil
	}

	alert := &channels.Alert{
		Type:     notice.AnomalyType,
		Severity: notice.Severity,
		OwnerID:  notice.OwnerID,
		Summary:  "circuit breaker tripped",
		Title:    "Circuit breaker tripped for " + notice.OwnerID,
		Body:     text,
		Record:   notice.Record,
	}
	if notice.Record != nil {
		alert.MetricName = notice.Record.MetricName
		alert.DetectedAt = notice.Record.DetectedAt
	}
	return n.channel.Send(ctx, alert)
}
