// Package server exposes the chat subsystem over HTTP and websockets.
//
// Endpoints:
//   - POST /api/chat/conversations                    create a conversation
//   - GET  /api/chat/conversations                    list the caller's conversations
//   - GET  /api/chat/conversations/{id}               fetch one conversation
//   - GET  /api/chat/conversations/{id}/messages      full ordered history
//   - POST /api/chat/conversations/{id}/generate      synchronous generation
//   - GET  /api/chat/conversations/{id}/ws            websocket session
//   - GET  /healthz                                   liveness probe
//
// All /api routes require a bearer token; websocket handshakes may carry
// it in the ?token= query parameter instead of a header. A caller who
// does not own a conversation gets 404, never 403, so conversation ids
// cannot be probed for existence.
package server
