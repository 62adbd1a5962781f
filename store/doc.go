// Package store is the persistence collaborator: conversations, their
// ordered messages, and the API tokens that map to user identities. It is
// backed by sqlite through the cgo-free modernc driver.
//
// Message ordering within a conversation is the insertion order of rows
// (monotonic autoincrement id); the chat paths re-read whatever history
// currently exists instead of caching it.
package store
