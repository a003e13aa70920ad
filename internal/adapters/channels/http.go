package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"costwatch/internal/adapters/retry"
	"costwatch/pkg/errors"
)

const maxErrorBody = 512

// NewHTTPClient returns the client shared by the webhook-style channels.
// Per-request deadlines come from the caller's context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJSON sends payload and maps failures onto ChannelDeliveryError
func postJSON(ctx context.Context, client *http.Client, channel, url string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &errors.ChannelDeliveryError{Channel: channel, Err: errors.Wrap(err, "encode payload")}
	}
	return postBody(ctx, client, channel, url, body, headers)
}

func postBody(ctx context.Context, client *http.Client, channel, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &errors.ChannelDeliveryError{Channel: channel, Err: errors.Wrap(err, "build request")}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "costwatch-alerts/1.0")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		// network failures and timeouts are worth another attempt
		return &errors.ChannelDeliveryError{Channel: channel, Transient: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &errors.ChannelDeliveryError{
		Channel:    channel,
		StatusCode: resp.StatusCode,
		Transient:  retry.IsRetryableStatus(resp.StatusCode),
		Err:        errors.Newf("unexpected response: %s", bytes.TrimSpace(snippet)),
	}
}
