package sendlater

import "errors"

var (
	// ErrNotOwner is returned by Cancel when the message belongs to another
	// sender.
	ErrNotOwner = errors.New("scheduled message belongs to another sender")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("pipeline already started")
)
