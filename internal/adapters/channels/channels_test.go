package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/adapters/config"
	"costwatch/internal/domain/anomaly"
	"costwatch/pkg/crypto"
	"costwatch/pkg/errors"
)

func testAlert(t *testing.T) *Alert {
	t.Helper()
	rec := &anomaly.Record{
		Type:          anomaly.TypeCostSpike,
		MetricName:    "cost_per_event",
		CurrentValue:  0.07,
		BaselineValue: 0.0188,
		Deviation:     3.72,
		Severity:      anomaly.SeverityHigh,
		Confidence:    0.68,
		OwnerID:       "owner-x",
		Context:       map[string]any{"summary": "cost 3.72x above baseline"},
		DetectedAt:    time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	alert, err := NewAlert(rec)
	require.NoError(t, err)
	return alert
}

type captured struct {
	body    []byte
	headers http.Header
	path    string
}

func captureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.body, _ = io.ReadAll(r.Body)
		c.headers = r.Header.Clone()
		c.path = r.URL.Path
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestNewAlert_Renders(t *testing.T) {
	alert := testAlert(t)
	assert.Equal(t, "[HIGH] Cost spike detected for owner-x", alert.Title)
	assert.Contains(t, alert.Body, "$0.07")
	assert.Contains(t, alert.Body, "68.0%")
	assert.Equal(t, "owner-x:cost_spike", alert.DedupKey())

	_, err := NewAlert(nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestSlack_Send(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	ch := NewSlack(srv.URL, srv.Client())

	require.NoError(t, ch.Send(context.Background(), testAlert(t)))

	var msg slackMessage
	require.NoError(t, json.Unmarshal(got.body, &msg))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "#FF6D00", msg.Attachments[0].Color)
	assert.Equal(t, "header", msg.Attachments[0].Blocks[0].Type)
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))
}

func TestDiscord_Send(t *testing.T) {
	srv, got := captureServer(t, http.StatusNoContent)
	ch := NewDiscord(srv.URL, srv.Client())

	require.NoError(t, ch.Send(context.Background(), testAlert(t)))

	var msg discordMessage
	require.NoError(t, json.Unmarshal(got.body, &msg))
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, 0xFF6D00, msg.Embeds[0].Color)
	assert.Equal(t, "2026-05-04T10:00:00Z", msg.Embeds[0].Timestamp)
}

func TestPagerDuty_Send(t *testing.T) {
	srv, got := captureServer(t, http.StatusAccepted)
	ch := NewPagerDuty("routing-key", srv.URL, srv.Client())

	require.NoError(t, ch.Send(context.Background(), testAlert(t)))

	var ev pagerDutyEvent
	require.NoError(t, json.Unmarshal(got.body, &ev))
	assert.Equal(t, "trigger", ev.EventAction)
	assert.Equal(t, "error", ev.Payload.Severity)
	assert.Equal(t, "costwatch:owner-x:cost_spike", ev.DedupKey)
}

func TestEmail_Send(t *testing.T) {
	srv, got := captureServer(t, http.StatusAccepted)
	ch := NewEmail("sg-key", srv.URL, "alerts@example.com", []string{"ops@example.com", "cfo@example.com"}, srv.Client())

	require.NoError(t, ch.Send(context.Background(), testAlert(t)))

	var msg emailMessage
	require.NoError(t, json.Unmarshal(got.body, &msg))
	assert.Equal(t, "Bearer sg-key", got.headers.Get("Authorization"))
	assert.Len(t, msg.Personalizations[0].To, 2)
	assert.Equal(t, "text/plain", msg.Content[0].Type)
}

func TestWebhook_SignsEnvelope(t *testing.T) {
	srv, got := captureServer(t, http.StatusOK)
	ch := NewWebhook(srv.URL, "s3cret", srv.Client())

	require.NoError(t, ch.Send(context.Background(), testAlert(t)))

	var env WebhookEnvelope
	require.NoError(t, json.Unmarshal(got.body, &env))
	assert.Equal(t, "1.0", env.Version)
	assert.Equal(t, "anomaly.detected", env.Event)
	assert.Equal(t, anomaly.TypeCostSpike, env.Alert.Type)

	signer, err := crypto.NewSigner("s3cret")
	require.NoError(t, err)
	assert.True(t, signer.Verify(got.body, got.headers.Get(SignatureHeader)))
}

func TestTelegram_Send(t *testing.T) {
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"cost","username":"costbot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			sent.Add(1)
			_ = r.ParseForm()
			assert.Equal(t, "42", r.FormValue("chat_id"))
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ch := NewTelegram("token", 42, srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, ch.Send(context.Background(), testAlert(t)))
	require.NoError(t, ch.Send(context.Background(), testAlert(t)))
	assert.Equal(t, int32(2), sent.Load())
}

func TestTelegram_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	err := NewTelegram("bad", 42, srv.URL+"/bot%s/%s", srv.Client()).Send(context.Background(), testAlert(t))
	require.Error(t, err)

	var delivery *errors.ChannelDeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.False(t, delivery.Transient)
}

func TestHTTP_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		srv, _ := captureServer(t, tt.status)
		err := NewSlack(srv.URL, srv.Client()).Send(context.Background(), testAlert(t))

		var delivery *errors.ChannelDeliveryError
		require.True(t, errors.As(err, &delivery), tt.status)
		assert.Equal(t, tt.status, delivery.StatusCode)
		assert.Equal(t, tt.transient, delivery.Transient, tt.status)
	}
}

func TestUnconfiguredChannels(t *testing.T) {
	var cfg config.AlertingConfig
	for name, ch := range FromConfig(cfg, http.DefaultClient) {
		assert.False(t, ch.Configured(), name)
		err := ch.Send(context.Background(), testAlert(t))
		assert.True(t, errors.Is(err, errors.ErrChannelNotConfigured), name)
	}
}
