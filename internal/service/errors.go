package service

import "fmt"

// SelectionError means the due-message query failed. It aborts the run.
type SelectionError struct {
	Err error
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("select due messages: %v", e.Err)
}

func (e *SelectionError) Unwrap() error { return e.Err }

// LedgerWriteError is a failed bookkeeping write for one message. It is logged
// and never aborts the run.
type LedgerWriteError struct {
	MessageID string
	Op        string
	Err       error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write %s for message %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// LockReleaseError means the batch lock could not be released after a retry.
// The lock stays held until an operator removes it.
type LockReleaseError struct {
	Token string
	Err   error
}

func (e *LockReleaseError) Error() string {
	return fmt.Sprintf("release batch lock %s: %v", e.Token, e.Err)
}

func (e *LockReleaseError) Unwrap() error { return e.Err }
