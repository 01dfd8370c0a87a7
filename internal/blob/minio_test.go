package blob

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MinIOStore {
	t.Helper()

	store, err := NewMinIOStore(MinIOOptions{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "videos",
		Region:    "us-east-1",
	}, nil)
	if err != nil {
		t.Fatalf("NewMinIOStore() error = %v", err)
	}
	return store
}

func TestMinIOStorePresignedURL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	key := VideoKey("owner-1", "msg-1")

	raw, err := store.PresignedURL(context.Background(), key, time.Hour)
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Host != "localhost:9000" {
		t.Fatalf("host = %q, want localhost:9000", u.Host)
	}
	if !strings.HasSuffix(u.Path, "/videos/"+key) {
		t.Fatalf("path = %q, want bucket and key", u.Path)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "3600" {
		t.Fatalf("X-Amz-Expires = %q, want 3600", got)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Fatal("expected a signature")
	}
}

func TestMinIOStorePresignedURLClampsTTL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	raw, err := store.PresignedURL(context.Background(), "k", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PresignedURL() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "604800" {
		t.Fatalf("X-Amz-Expires = %q, want 604800", got)
	}
}

func TestNewMinIOStoreValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewMinIOStore(MinIOOptions{Bucket: "videos"}, nil); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := NewMinIOStore(MinIOOptions{Endpoint: "localhost:9000"}, nil); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestVideoKey(t *testing.T) {
	t.Parallel()

	if got, want := VideoKey(" o1 ", "m1"), "owners/o1/messages/m1/video"; got != want {
		t.Fatalf("VideoKey() = %q, want %q", got, want)
	}
}
