package tick

// Side identifies the taker side of a trade.
type Side string

const (
	SideBuy  Side = "B"
	SideSell Side = "S"
)

// Tick is one normalized market trade event.
//
// Time carries the provider's sendingTime verbatim; the provider mixes
// formats across asset classes, so the relay treats it as opaque.
type Tick struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Side     Side    `json:"side"`
	Time     string  `json:"time"`
}
