// Package broker implements the conversation-scoped broadcast registry
// behind the streaming sessions. Every open session subscribes to the
// topic named by its conversation id; pass-through client events are
// published to the topic and fan out to all sessions observing the same
// conversation.
//
// Two implementations share one interface: Local keeps everything
// in-process (the default), NATS relays frames through a NATS connection
// so sessions on different nodes still share a group. The broker carries
// opaque wire frames; correctness of generation never depends on it.
package broker
