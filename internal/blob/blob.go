package blob

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Store holds video objects under owner-scoped keys.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// VideoKey is the object key for a message's video.
func VideoKey(ownerID string, messageID string) string {
	return fmt.Sprintf("owners/%s/messages/%s/video", strings.TrimSpace(ownerID), strings.TrimSpace(messageID))
}
