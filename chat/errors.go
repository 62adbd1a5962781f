package chat

import (
	"errors"
	"fmt"
)

// ErrUnauthorized rejects a request whose caller does not own the target
// conversation. No detail about the conversation's existence is carried.
var ErrUnauthorized = errors.New("unauthorized")

// ValidationError reports malformed caller input. It is always returned
// to the caller and never retried.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// PersistenceError wraps a store failure. Fatal for the current request;
// this subsystem does not retry it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
