package mailer

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	ProviderSendGrid = "sendgrid"

	sendGridEndpoint = "/v3/mail/send"
)

// SendGridTransport sends through the SendGrid v3 mail API.
type SendGridTransport struct {
	apiKey string
	host   string
}

func NewSendGridTransport(apiKey string, host string) (*SendGridTransport, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("sendgrid api key is required")
	}
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = "https://api.sendgrid.com"
	}
	return &SendGridTransport{apiKey: apiKey, host: host}, nil
}

func (t *SendGridTransport) Name() string { return ProviderSendGrid }

func (t *SendGridTransport) Send(ctx context.Context, email Email) (*SendResult, error) {
	if err := email.validate(); err != nil {
		return nil, &TransportError{Provider: ProviderSendGrid, Message: err.Error()}
	}

	message := sgmail.NewV3Mail()
	message.SetFrom(sendGridAddress(email.From))
	message.Subject = email.Subject

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail("", email.To))
	message.AddPersonalizations(p)

	// SendGrid requires text/plain before text/html.
	if email.Text != "" {
		message.AddContent(sgmail.NewContent("text/plain", email.Text))
	}
	if email.HTML != "" {
		message.AddContent(sgmail.NewContent("text/html", email.HTML))
	}
	if email.IdempotencyKey != "" {
		message.SetHeader("X-Idempotency-Key", email.IdempotencyKey)
	}

	request := sendgrid.GetRequest(t.apiKey, sendGridEndpoint, t.host)
	request.Method = http.MethodPost
	request.Body = sgmail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return nil, &TransportError{
			Provider:  ProviderSendGrid,
			Message:   "request failed",
			Transient: ctx.Err() == nil,
			Cause:     err,
		}
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			Provider:   ProviderSendGrid,
			StatusCode: response.StatusCode,
			Message:    statusMessage(response.StatusCode, response.Body),
			Transient:  isTransientHTTPStatus(response.StatusCode),
		}
	}

	return &SendResult{
		ProviderMessageID: headerValue(response.Headers, "X-Message-Id"),
		StatusCode:        response.StatusCode,
	}, nil
}

func sendGridAddress(from string) *sgmail.Email {
	if parsed, err := mail.ParseAddress(from); err == nil {
		return sgmail.NewEmail(parsed.Name, parsed.Address)
	}
	return sgmail.NewEmail("", from)
}

func headerValue(headers map[string][]string, key string) string {
	if values := http.Header(headers).Values(key); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}
