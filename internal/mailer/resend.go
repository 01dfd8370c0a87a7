package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ProviderResend = "resend"

	defaultSendTimeout = 10 * time.Second
)

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// ResendTransport posts to a Resend-compatible /emails endpoint.
type ResendTransport struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

func NewResendTransport(baseURL string, apiKey string) (*ResendTransport, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewResendTransportWithClient(baseURL, apiKey, client)
}

func NewResendTransportWithClient(baseURL string, apiKey string, client *resty.Client) (*ResendTransport, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("resend base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid resend base url: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	// retries belong to the next delivery run, never to the transport
	client.SetRetryCount(0)

	return &ResendTransport{client: client, baseURL: trimmed, apiKey: apiKey}, nil
}

func (t *ResendTransport) Name() string { return ProviderResend }

func (t *ResendTransport) Send(ctx context.Context, email Email) (*SendResult, error) {
	if t == nil || t.client == nil {
		return nil, fmt.Errorf("resend transport is not initialized")
	}
	if err := email.validate(); err != nil {
		return nil, &TransportError{Provider: ProviderResend, Message: err.Error()}
	}

	var out resendResponse
	req := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(resendRequest{
			From:    email.From,
			To:      []string{email.To},
			Subject: email.Subject,
			HTML:    email.HTML,
			Text:    email.Text,
		}).
		SetResult(&out)
	if email.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", email.IdempotencyKey)
	}

	response, err := req.Post(t.baseURL + "/emails")
	if err != nil {
		return nil, &TransportError{
			Provider:  ProviderResend,
			Message:   "request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			Provider:   ProviderResend,
			StatusCode: statusCode,
			Message:    statusMessage(statusCode, response.String()),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	return &SendResult{ProviderMessageID: strings.TrimSpace(out.ID), StatusCode: statusCode}, nil
}
