// Package slogx provides small helpers for building slog attributes in a
// consistent shape across the codebase.
package slogx

import (
	"fmt"
	"log/slog"
)

// Error returns a slog.Attr for the provided error under the key "error".
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Stringer returns a slog.Attr with the string rendering of value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// Conversation returns the attribute carrying a conversation id. All log
// lines that touch a conversation use this key so they correlate.
func Conversation(id string) slog.Attr {
	return slog.String("conversation_id", id)
}

// User returns the attribute carrying the authenticated user id.
func User(id string) slog.Attr {
	return slog.String("user_id", id)
}
