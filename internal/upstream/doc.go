// Package upstream implements the broker connection layer.
//
// A Client is one raw WebSocket connection to the provider's broker with
// heartbeat and stale detection. A Session owns exactly one Client for a
// logical stream session: it performs the broker handshake, subscribes one
// topic per symbol, decodes inbound tick payloads, and reconnects with a
// fixed backoff on transport drops until explicitly closed.
package upstream
