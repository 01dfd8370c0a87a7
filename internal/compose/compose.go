// Package compose renders a message into the email that carries it. It does no
// I/O; the caller resolves the optional video link beforehand.
package compose

import (
	"bytes"
	"fmt"
	html "html/template"
	"strings"
	text "text/template"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
)

const dateFormat = "January 2, 2006"

// Composed is the rendered email content for one message.
type Composed struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type view struct {
	WrittenOn  string
	Paragraphs []string
	Body       string
	AssetURL   string
}

var htmlTemplate = html.Must(html.New("message.html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Georgia, serif; max-width: 600px; margin: 0 auto;">
<h2>A message from the past</h2>
{{- if .WrittenOn}}
<p style="color: #666;">Written on {{.WrittenOn}}</p>
{{- end}}
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
{{- if .AssetURL}}
<p><a href="{{.AssetURL}}">Watch the video that came with this message</a></p>
<p style="color: #666; font-size: 12px;">This link expires, so save the video if you want to keep it.</p>
{{- end}}
</body>
</html>
`))

var textTemplate = text.Must(text.New("message.txt").Parse(`A message from the past
{{- if .WrittenOn}}
Written on {{.WrittenOn}}
{{- end}}

{{.Body}}
{{- if .AssetURL}}

Watch the video that came with this message:
{{.AssetURL}}
{{- end}}
`))

// Compose fails only when the recipient address is unusable. Missing body
// text and a missing asset URL degrade to empty sections.
func Compose(msg domain.Message, assetURL string) (*Composed, error) {
	recipient := strings.TrimSpace(msg.RecipientEmail)
	if !domain.ValidRecipient(recipient) {
		return nil, fmt.Errorf("%w: recipient %q has no usable address", domain.ErrValidation, msg.RecipientEmail)
	}

	body := strings.ReplaceAll(strings.TrimSpace(msg.Body), "\r\n", "\n")
	v := view{
		WrittenOn:  formatDate(msg.CreatedAt),
		Paragraphs: paragraphs(body),
		Body:       body,
		AssetURL:   strings.TrimSpace(assetURL),
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := htmlTemplate.Execute(&htmlBuf, v); err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}
	if err := textTemplate.Execute(&textBuf, v); err != nil {
		return nil, fmt.Errorf("failed to render text body: %w", err)
	}

	return &Composed{
		To:      recipient,
		Subject: subject(msg.CreatedAt),
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}

func subject(writtenAt time.Time) string {
	if writtenAt.IsZero() {
		return "Your time capsule has arrived"
	}
	return "Your time capsule from " + formatDate(writtenAt) + " has arrived"
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateFormat)
}

func paragraphs(body string) []string {
	if body == "" {
		return nil
	}

	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
