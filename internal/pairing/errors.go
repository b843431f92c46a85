package pairing

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	// ErrDuplicateConnection is returned when a connection id is registered
	// twice while the first registration is still live.
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrMatchmakerClosed    = errors.New("matchmaker closed")
)
