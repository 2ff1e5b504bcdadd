// Package bridge consumes the persisted-price change feed over Redis
// pub/sub, nudging the relay's feed control endpoints so ingestion runs
// while a consumer is attached.
//
// It is the in-process equivalent of a realtime fan-out client: payloads
// arrive exactly as the persister published them and are forwarded
// verbatim to Updates().
package bridge
