package channels

import (
	"context"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"costwatch/internal/adapters/retry"
	"costwatch/pkg/errors"
	"costwatch/pkg/templates"
)

const telegramMaxText = 4096

// Telegram sends plain-text alerts to a chat through the Bot API
type Telegram struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	api *tgbotapi.BotAPI
}

// NewTelegram creates a Telegram channel. An empty endpoint uses the public Bot API.
func NewTelegram(token string, chatID int64, endpoint string, client *http.Client) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{token: token, chatID: chatID, endpoint: endpoint, client: client}
}

func (t *Telegram) Name() string     { return NameTelegram }
func (t *Telegram) Configured() bool { return t.token != "" && t.chatID != 0 }

// Send posts the alert. The Bot API client has no context support, so the
// call is abandoned (and bounded by the HTTP client timeout) when ctx ends.
func (t *Telegram) Send(ctx context.Context, alert *Alert) error {
	if !t.Configured() {
		return notConfigured(NameTelegram, "TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID")
	}

	done := make(chan error, 1)
	go func() {
		done <- t.send(alert)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &errors.ChannelDeliveryError{Channel: NameTelegram, Transient: true, Err: errors.Wrap(errors.ErrTimeout, ctx.Err().Error())}
	}
}

func (t *Telegram) send(alert *Alert) error {
	api, err := t.bot()
	if err != nil {
		return classifyTelegram(err)
	}

	msg := tgbotapi.NewMessage(t.chatID, templates.Truncate(alert.Title+"\n\n"+alert.Body, telegramMaxText))
	msg.DisableWebPagePreview = true
	if _, err := api.Send(msg); err != nil {
		return classifyTelegram(err)
	}
	return nil
}

// bot authorizes lazily so that a misconfigured token fails the delivery, not startup
func (t *Telegram) bot() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.api != nil {
		return t.api, nil
	}
	api, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, err
	}
	t.api = api
	return api, nil
}

func classifyTelegram(err error) error {
	code := 0
	var apiErr *tgbotapi.Error
	var apiVal tgbotapi.Error
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiVal):
		code = apiVal.Code
	}

	if code != 0 {
		return &errors.ChannelDeliveryError{
			Channel:    NameTelegram,
			StatusCode: code,
			Transient:  retry.IsRetryableStatus(code),
			Err:        err,
		}
	}
	return &errors.ChannelDeliveryError{Channel: NameTelegram, Transient: true, Err: err}
}
