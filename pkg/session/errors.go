package session

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrConflict is returned when a live session already exists for a user.
	ErrConflict = errors.New("session already exists")
	// ErrAlreadyExists is the store level name of ErrConflict.
	ErrAlreadyExists = ErrConflict

	ErrNotFound        = errors.New("session not found")
	ErrNotConnected    = errors.New("session is not connected")
	ErrValidation      = errors.New("validation failed")
	ErrDispatch        = errors.New("message dispatch failed")
	ErrPartialDispatch = errors.New("some messages were not dispatched")
	ErrCleanup         = errors.New("credential cleanup failed")
	ErrRetryExhausted  = errors.New("reconnect attempts exhausted")

	// ErrTransientDisconnect marks a connect failure that was handed to the
	// reconnect loop instead of being reported as final.
	ErrTransientDisconnect = errors.New("transient disconnect")
)

func validationError(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Mark(errors.Newf(format, args...), ErrValidation)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrValidation)
}
