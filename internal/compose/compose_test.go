package compose

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
)

func testMessage() domain.Message {
	return domain.Message{
		ID:             "m1",
		RecipientEmail: " future@example.com ",
		Body:           "Dear me,\n\nRemember the summer.",
		CreatedAt:      time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestComposeRendersBothParts(t *testing.T) {
	t.Parallel()

	got, err := Compose(testMessage(), "")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	if got.To != "future@example.com" {
		t.Fatalf("To = %q, want trimmed recipient", got.To)
	}
	if got.Subject != "Your time capsule from June 1, 2024 has arrived" {
		t.Fatalf("Subject = %q", got.Subject)
	}
	if !strings.Contains(got.HTML, "<p>Dear me,</p>") || !strings.Contains(got.HTML, "<p>Remember the summer.</p>") {
		t.Fatalf("HTML missing paragraphs:\n%s", got.HTML)
	}
	if !strings.Contains(got.Text, "Remember the summer.") {
		t.Fatalf("Text missing body:\n%s", got.Text)
	}
	if strings.Contains(got.HTML, "Watch the video") || strings.Contains(got.Text, "Watch the video") {
		t.Fatal("asset section should be omitted without an asset url")
	}
}

func TestComposeIncludesAssetLink(t *testing.T) {
	t.Parallel()

	url := "https://blob.example.com/videos/o1/m1?X-Amz-Signature=abc"
	got, err := Compose(testMessage(), url)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	if !strings.Contains(got.HTML, `href="https://blob.example.com/videos/o1/m1?X-Amz-Signature=abc"`) {
		t.Fatalf("HTML missing asset link:\n%s", got.HTML)
	}
	if !strings.Contains(got.Text, url) {
		t.Fatalf("Text missing asset link:\n%s", got.Text)
	}
}

func TestComposeEscapesBody(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	msg.Body = `<script>alert("x")</script>`

	got, err := Compose(msg, "")
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if strings.Contains(got.HTML, "<script>") {
		t.Fatalf("HTML body was not escaped:\n%s", got.HTML)
	}
}

func TestComposeDegradesOnMissingContent(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	msg.Body = "   "
	msg.CreatedAt = time.Time{}

	got, err := Compose(msg, "")
	if err != nil {
		t.Fatalf("Compose() error = %v, empty body must not fail", err)
	}
	if got.Subject != "Your time capsule has arrived" {
		t.Fatalf("Subject = %q", got.Subject)
	}
	if strings.Contains(got.HTML, "Written on") {
		t.Fatal("HTML should omit the date line without a creation time")
	}
}

func TestComposeRejectsUnusableRecipient(t *testing.T) {
	t.Parallel()

	for _, recipient := range []string{"", "no-at-sign", "@example.com", "me@"} {
		msg := testMessage()
		msg.RecipientEmail = recipient

		_, err := Compose(msg, "")
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("Compose(%q) error = %v, want ErrValidation", recipient, err)
		}
	}
}
