package uuidx

import "github.com/google/uuid"

// New returns a v7 UUID. V7 ids sort by creation time, which keeps
// connection and request ids grep-able in chronological order.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns a v7 UUID rendered as a string.
func NewString() string {
	return New().String()
}
