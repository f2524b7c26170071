package domain

import "time"

// Tick is a single market price/volume update for one instrument.
// Ticks are ephemeral: they are consumed by the aggregator and the
// position monitor and never persisted.
type Tick struct {
	Symbol       string
	LastPrice    float64
	Volume       int64     // cumulative traded volume reported by the exchange
	ExchangeTime time.Time // exchange timestamp, not local receive time
}

// Valid reports whether the tick carries a usable price.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.LastPrice > 0
}
