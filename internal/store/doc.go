// Package store persists the latest trade per symbol to PostgreSQL.
//
// The live_prices table keeps exactly one row per (symbol, asset_class);
// every write is an upsert, so readers always see the most recent trade
// that made it past the persister's throttle.
package store
