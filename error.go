package golin

import (
	"errors"
	"fmt"
	"time"
)

type unrecoverableError struct {
	error
}

func (e unrecoverableError) Error() string {
	if e.error == nil {
		return "unrecoverable error"
	}
	return e.error.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.error
}

// Unrecoverable wraps an error in `unrecoverableError` struct
func Unrecoverable(err error) error {
	return unrecoverableError{err}
}

// IsRecoverable checks if error is an instance of `unrecoverableError`
func IsRecoverable(err error) bool {
	var ue unrecoverableError
	return !errors.As(err, &ue)
}

var (
	ErrNilDriver         = errors.New("driver is nil")
	ErrUnknownRole       = errors.New("unknown node role")
	ErrUnknownAdapter    = errors.New("unknown adapter")
	ErrDroppedFrame      = errors.New("adapter transaction queue full")
	ErrNotInitialized    = errors.New("driver not initialized")
	ErrNotMaster         = errors.New("node is not a master")
	ErrNoDescriptor      = errors.New("no descriptor registered for frame")
	ErrInvalidDescriptor = errors.New("invalid frame descriptor")
	ErrInvalidSlot       = errors.New("invalid descriptor slot")
	ErrNodeMismatch      = errors.New("node number does not match driver init")
	ErrAdapterClosed     = errors.New("adapter closed")
	ErrSubscriberClosed  = errors.New("subscriber closed")
)

// TimeoutError reports a master request that got no response before the
// next periodic tick.
type TimeoutError struct {
	Node    int
	ID      uint8
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("response timeout (%dms) for frame 0x%02X on node %d", e.Timeout.Milliseconds(), e.ID, e.Node)
}
