package tick

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseError describes a single malformed provider payload. Parse failures
// drop that one message; they never terminate the connection.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tick payload: %s: %s", e.Field, e.Reason)
}

// wirePayload mirrors the provider's tick message. Numeric fields arrive as
// decimal strings.
type wirePayload struct {
	Symbol      string `json:"symbol"`
	MatchPrice  string `json:"matchPrice"`
	MatchQtty   string `json:"matchQtty"`
	Side        string `json:"side"`
	SendingTime string `json:"sendingTime"`
}

// Parse decodes a provider tick payload into a Tick. It returns a
// *ParseError for any payload that cannot yield a fully populated Tick;
// partially populated ticks are never produced.
func Parse(data []byte) (Tick, error) {
	var p wirePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Tick{}, &ParseError{Field: "payload", Reason: err.Error()}
	}

	if p.Symbol == "" {
		return Tick{}, &ParseError{Field: "symbol", Reason: "missing"}
	}

	if p.MatchPrice == "" {
		return Tick{}, &ParseError{Field: "matchPrice", Reason: "missing"}
	}
	price, err := strconv.ParseFloat(p.MatchPrice, 64)
	if err != nil {
		return Tick{}, &ParseError{Field: "matchPrice", Reason: "not numeric: " + p.MatchPrice}
	}

	if p.MatchQtty == "" {
		return Tick{}, &ParseError{Field: "matchQtty", Reason: "missing"}
	}
	qty, err := strconv.ParseInt(p.MatchQtty, 10, 64)
	if err != nil {
		return Tick{}, &ParseError{Field: "matchQtty", Reason: "not numeric: " + p.MatchQtty}
	}

	side := Side(p.Side)
	if side != SideBuy && side != SideSell {
		return Tick{}, &ParseError{Field: "side", Reason: "unknown: " + p.Side}
	}

	return Tick{
		Symbol:   p.Symbol,
		Price:    price,
		Quantity: qty,
		Side:     side,
		Time:     p.SendingTime,
	}, nil
}
