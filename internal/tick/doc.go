// Package tick defines the normalized tick event and the decoder for the
// provider's wire payload.
//
// Conventions:
//   - Prices: float64 VND (provider sends them as decimal strings)
//   - Quantities: int64 shares
//   - Times: the provider sendingTime string, passed through verbatim
package tick
