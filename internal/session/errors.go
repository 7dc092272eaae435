package session

import "errors"

var (
	// ErrSessionNotFound is returned when the requested session does
	// not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidRole is returned when a message carries a role other
	// than user or model.
	ErrInvalidRole = errors.New("invalid message role")
)
