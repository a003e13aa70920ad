// Package channels delivers anomaly alerts to external notification services.
package channels

import (
	"context"
	"fmt"
	"time"

	"costwatch/internal/domain/anomaly"
	"costwatch/pkg/errors"
	"costwatch/pkg/templates"
)

// Channel names used in routing tables
const (
	NameSlack     = "slack"
	NameDiscord   = "discord"
	NameTelegram  = "telegram"
	NamePagerDuty = "pagerduty"
	NameEmail     = "email"
	NameWebhook   = "webhook"
	NameOperator  = "operator"
)

// Channel is one alert destination
type Channel interface {
	Name() string
	// Configured reports whether the credentials needed to send are present
	Configured() bool
	Send(ctx context.Context, alert *Alert) error
}

// Alert is the channel-neutral rendering of an anomaly record
type Alert struct {
	Type          string
	Severity      string
	OwnerID       string
	MetricName    string
	Summary       string
	Current       string
	Baseline      string
	ConfidencePct float64
	DetectedAt    time.Time

	Title string
	Body  string

	Record *anomaly.Record
}

// NewAlert renders rec with the embedded alert templates
func NewAlert(rec *anomaly.Record) (*Alert, error) {
	return NewAlertWithRegistry(rec, templates.Get())
}

// NewAlertWithRegistry renders rec with the given template registry
func NewAlertWithRegistry(rec *anomaly.Record, reg *templates.Registry) (*Alert, error) {
	if rec == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "nil anomaly record")
	}

	summary, _ := rec.Context["summary"].(string)
	if summary == "" {
		summary = fmt.Sprintf("%s deviated from baseline", rec.MetricName)
	}

	a := &Alert{
		Type:          rec.Type.String(),
		Severity:      rec.Severity.String(),
		OwnerID:       rec.OwnerID,
		MetricName:    rec.MetricName,
		Summary:       summary,
		Current:       formatValue(rec.Type, rec.CurrentValue),
		Baseline:      formatValue(rec.Type, rec.BaselineValue),
		ConfidencePct: rec.Confidence * 100,
		DetectedAt:    rec.DetectedAt,
		Record:        rec,
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}

	var err error
	if a.Title, err = reg.Render("alerts/title", a); err != nil {
		return nil, errors.Wrap(err, "render alert title")
	}
	if a.Body, err = reg.Render("alerts/body", a); err != nil {
		return nil, errors.Wrap(err, "render alert body")
	}
	return a, nil
}

// DedupKey identifies the (owner, anomaly type) pair an alert belongs to
func (a *Alert) DedupKey() string {
	return a.OwnerID + ":" + a.Type
}

func formatValue(t anomaly.Type, v float64) string {
	switch t {
	case anomaly.TypeCostSpike, anomaly.TypeBudgetOverrun, anomaly.TypeNegativeROI:
		return templates.FormatUSD(v)
	default:
		return fmt.Sprintf("%.4g", v)
	}
}

// notConfigured is returned by Send when credentials are missing
func notConfigured(channel, missing string) error {
	return errors.Wrapf(errors.ErrChannelNotConfigured, "%s: %s is not set", channel, missing)
}
