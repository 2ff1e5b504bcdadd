// Package hours implements the trading-hours gate.
//
// A Calendar is a pure value: given a wall-clock instant it reports whether
// the market is inside a trading session. Stream entry points consult it
// before any authentication or upstream call, so closed-market requests are
// rejected without network side effects.
package hours
