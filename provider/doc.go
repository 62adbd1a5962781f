// Package provider implements the pluggable generation capability behind
// both chat paths. A Provider turns an ordered conversation history plus
// sampling parameters into a single assistant reply; a Provider that can
// also produce its reply incrementally additionally implements Streamer.
//
// Design decisions:
//   - One interface, two concrete variants: a deterministic offline echo
//     provider and a remote adapter over an external completion service
//     (see the openai subpackage).
//   - Streaming is an optional capability, not a second required method.
//     Callers that want incremental delivery test for Streamer and fall
//     back to chunking a complete reply.
//   - Selection is explicit: a per-request hint wins over the injected
//     process default, and a failure to construct the remote provider is
//     surfaced to the caller rather than silently downgraded to echo.
//   - Parameter normalization never fails: unparsable fields take their
//     documented defaults and out-of-range values are clamped.
package provider
