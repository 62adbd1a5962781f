package chat

import (
	"context"
	"log/slog"

	"github.com/learnloop/converse/pkg/slogx"
)

// OwnershipChecker is the store surface the guard needs.
type OwnershipChecker interface {
	Owns(ctx context.Context, ownerID, conversationID string) (bool, error)
}

// Guard authorizes a user against a conversation before any session or
// generation touches its history.
type Guard struct {
	Store OwnershipChecker
}

// Owns reports whether userID owns the conversation. Lookup errors,
// including not-found, resolve to false; nothing bubbles to the caller.
func (g Guard) Owns(ctx context.Context, userID, conversationID string) bool {
	ok, err := g.Store.Owns(ctx, userID, conversationID)
	if err != nil {
		slog.Warn("ownership lookup failed",
			slogx.Error(err), slogx.User(userID), slogx.Conversation(conversationID))
		return false
	}
	return ok
}
