// Package persist runs background ingestion feeds: one upstream session per
// asset class whose ticks are throttled per symbol and upserted into the
// live price store, with change notifications published for downstream
// bridges.
//
// A feed's lifetime is tied to a Redis lease. The feed renews the lease
// while it runs and tears itself down once the lease disappears, so an
// operator (or an expired TTL after a crash) can stop ingestion without
// reaching the process.
package persist
