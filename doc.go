// Package wsecho is a hand-rolled, server-only implementation of the
// WebSocket protocol that echoes every message back to its sender.
//
// See https://tools.ietf.org/html/rfc6455
//
// The protocol engine does not depend on any WebSocket library. Accept
// validates the HTTP upgrade request and hijacks the transport. From then
// on a Conn reads raw chunks from the transport and feeds them to a Machine,
// an incremental frame parser that never blocks and reports what should
// happen next as an ordered list of Effects.
//
// Every inbound frame must be masked, messages may be fragmented but may not
// exceed Config.MaxPayload, and ping and pong frames are refused. Messages are
// echoed back as a single unfragmented binary frame regardless of whether
// they arrived as text or binary.
package wsecho
