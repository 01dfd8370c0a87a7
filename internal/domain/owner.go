package domain

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

func (t Tier) String() string { return string(t) }

func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPaid:
		return true
	}
	return false
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid tier %q", ErrValidation, s)
	}
	return t, nil
}

// Owner carries the tier flags and storage accounting of a message author.
type Owner struct {
	ID                string
	Email             string
	Tier              Tier
	FreeMessageUsed   bool
	StorageUsedBytes  int64
	StorageQuotaBytes int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanStore reports whether delta more bytes fit in the owner's quota.
func (o *Owner) CanStore(delta int64) bool {
	if delta <= 0 {
		return true
	}
	return ClampedUsage(o.StorageUsedBytes, delta) <= o.StorageQuotaBytes
}

// ClampedUsage applies delta to used with a floor of zero.
func ClampedUsage(used int64, delta int64) int64 {
	next := used + delta
	if next < 0 {
		return 0
	}
	return next
}
