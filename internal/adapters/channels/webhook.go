package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"costwatch/internal/domain/anomaly"
	"costwatch/pkg/crypto"
	"costwatch/pkg/errors"
)

const (
	webhookVersion         = "1.0"
	webhookEventDetected   = "anomaly.detected"
	webhookEventMitigation = "mitigation.applied"
	// SignatureHeader carries the HMAC of the request body when a secret is set
	SignatureHeader = "X-Costwatch-Signature"
)

// Webhook posts a versioned JSON envelope to an arbitrary endpoint
type Webhook struct {
	name   string
	url    string
	event  string
	signer *crypto.Signer
	client *http.Client
	now    func() time.Time
}

// WebhookEnvelope is the body of every webhook delivery
type WebhookEnvelope struct {
	Version string          `json:"version"`
	Event   string          `json:"event"`
	Alert   *anomaly.Record `json:"alert"`
	Title   string          `json:"title"`
	Text    string          `json:"text"`
	SentAt  time.Time       `json:"sent_at"`
}

// NewWebhook creates the generic alert webhook. An empty secret disables signing.
func NewWebhook(url, secret string, client *http.Client) *Webhook {
	return newWebhook(NameWebhook, webhookEventDetected, url, secret, client)
}

// NewOperatorWebhook creates the operator audience webhook used by the circuit breaker
func NewOperatorWebhook(url string, client *http.Client) *Webhook {
	return newWebhook(NameOperator, webhookEventMitigation, url, "", client)
}

func newWebhook(name, event, url, secret string, client *http.Client) *Webhook {
	w := &Webhook{name: name, url: url, event: event, client: client, now: time.Now}
	if secret != "" {
		w.signer, _ = crypto.NewSigner(secret)
	}
	return w
}

func (w *Webhook) Name() string     { return w.name }
func (w *Webhook) Configured() bool { return w.url != "" }

// Send posts the envelope
func (w *Webhook) Send(ctx context.Context, alert *Alert) error {
	if !w.Configured() {
		return notConfigured(w.name, "webhook URL")
	}

	body, err := json.Marshal(WebhookEnvelope{
		Version: webhookVersion,
		Event:   w.event,
		Alert:   alert.Record,
		Title:   alert.Title,
		Text:    alert.Body,
		SentAt:  w.now().UTC(),
	})
	if err != nil {
		return &errors.ChannelDeliveryError{Channel: w.name, Err: errors.Wrap(err, "encode envelope")}
	}

	var headers map[string]string
	if w.signer != nil {
		headers = map[string]string{SignatureHeader: w.signer.Sign(body)}
	}
	return postBody(ctx, w.client, w.name, w.url, body, headers)
}
