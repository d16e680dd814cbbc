package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange   = errors.New("start time must be before end time")
	ErrOverlap        = errors.New("availability window overlaps an existing window")
	ErrWindowNotFound = errors.New("availability window not found")

	ErrInvalidRequest  = errors.New("invalid booking request")
	ErrPastDate        = errors.New("appointment date is in the past")
	ErrSlotTaken       = errors.New("slot already has a live appointment")
	ErrSlotUnavailable = errors.New("time is not offered by the practitioner's availability")

	ErrNotAuthorized       = errors.New("actor is not allowed to perform this operation")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrInvalidSlotDuration = errors.New("slot duration must be a positive whole number of minutes")
)

// StorageError marks failures of the backing store itself, as opposed to rejected input.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err (or anything it wraps) came from the store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
