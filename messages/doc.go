// Package messages defines the chat message value types shared by every
// generation path. A ChatMessage is immutable once constructed; ordering
// within a conversation is the order in which messages were appended and is
// the store's concern, not this package's.
package messages
