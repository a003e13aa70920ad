package channels

import (
	"context"
	"net/http"
)

// Email sends plain-text mail through a SendGrid v3 compatible transactional API
type Email struct {
	apiKey string
	apiURL string
	from   string
	to     []string
	client *http.Client
}

// NewEmail creates an email channel
func NewEmail(apiKey, apiURL, from string, to []string, client *http.Client) *Email {
	if apiURL == "" {
		apiURL = "https://api.sendgrid.com/v3/mail/send"
	}
	return &Email{apiKey: apiKey, apiURL: apiURL, from: from, to: to, client: client}
}

func (e *Email) Name() string { return NameEmail }

func (e *Email) Configured() bool {
	return e.apiKey != "" && e.from != "" && len(e.to) > 0
}

// Send mails the alert to every recipient
func (e *Email) Send(ctx context.Context, alert *Alert) error {
	if !e.Configured() {
		return notConfigured(NameEmail, "EMAIL_API_KEY/EMAIL_FROM/EMAIL_TO")
	}
	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}
	return postJSON(ctx, e.client, NameEmail, e.apiURL, e.payload(alert), headers)
}

type emailAddress struct {
	Email string `json:"email"`
}

type emailPersonalization struct {
	To []emailAddress `json:"to"`
}

type emailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type emailMessage struct {
	Personalizations []emailPersonalization `json:"personalizations"`
	From             emailAddress           `json:"from"`
	Subject          string                 `json:"subject"`
	Content          []emailContent         `json:"content"`
}

func (e *Email) payload(alert *Alert) emailMessage {
	to := make([]emailAddress, 0, len(e.to))
	for _, addr := range e.to {
		to = append(to, emailAddress{Email: addr})
	}
	return emailMessage{
		Personalizations: []emailPersonalization{{To: to}},
		From:             emailAddress{Email: e.from},
		Subject:          alert.Title,
		Content:          []emailContent{{Type: "text/plain", Value: alert.Body}},
	}
}
