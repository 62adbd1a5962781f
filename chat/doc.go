// Package chat implements the generation orchestration shared by both
// delivery paths: the synchronous request/reply endpoint and the
// streaming sessions. It owns the error taxonomy at the provider
// boundary, the ownership guard, and the ordering policy for persisted
// messages.
//
// Sequencing is deliberate: the user's message is persisted before the
// provider is invoked, so a transient provider failure never loses what
// the user already said. Generations against the same conversation are
// serialized with a per-conversation lock so concurrent writers append in
// a total order instead of interleaving.
package chat
