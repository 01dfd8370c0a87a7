package domain

import "time"

// LockHandle identifies one holder of the batch lock.
type LockHandle struct {
	Token      string
	Holder     string
	AcquiredAt time.Time
}
