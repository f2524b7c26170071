package market

import (
	"github.com/markcheno/go-talib"

	"pattern-trader/internal/domain"
)

const (
	emaFastPeriod = 20
	emaSlowPeriod = 50
	rsiPeriod     = 14
	atrPeriod     = 14
)

// Indicators holds the cached technical values for one symbol. Each field
// carries its own validity flag: a short series yields partial indicators
// rather than an error, and downstream scoring degrades accordingly.
type Indicators struct {
	EMAFast      float64
	EMAFastValid bool
	EMASlow      float64
	EMASlowValid bool
	RSI          float64
	RSIValid     bool
	ATR          float64
	ATRValid     bool
}

// ComputeIndicators recomputes indicator values over a bar series. The
// talib calls are guarded by length checks so a short series never panics.
func ComputeIndicators(series domain.BarSeries) Indicators {
	var ind Indicators
	n := len(series)
	if n == 0 {
		return ind
	}

	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()

	if n > emaFastPeriod {
		vals := talib.Ema(closes, emaFastPeriod)
		ind.EMAFast = vals[n-1]
		ind.EMAFastValid = true
	}
	if n > emaSlowPeriod {
		vals := talib.Ema(closes, emaSlowPeriod)
		ind.EMASlow = vals[n-1]
		ind.EMASlowValid = true
	}
	if n > rsiPeriod {
		vals := talib.Rsi(closes, rsiPeriod)
		ind.RSI = vals[n-1]
		ind.RSIValid = true
	}
	if n > atrPeriod {
		vals := talib.Atr(highs, lows, closes, atrPeriod)
		ind.ATR = vals[n-1]
		ind.ATRValid = true
	}

	return ind
}
