package exchange

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

const (
	rsiPeriod   = 14
	smaPeriod   = 20
	emaPeriod   = 12
	rsiProxyMin = 20.0
	rsiProxyMax = 80.0
)

// RangeRSI 由 24h 区间推算的 RSI 近似值: clamp(20, 80, 100*(p-low)/(high-low))，区间为空时为 50
func RangeRSI(price, low, high float64) float64 {
	if high <= low || price <= 0 {
		return 50
	}
	v := 100 * (price - low) / (high - low)
	return math.Min(rsiProxyMax, math.Max(rsiProxyMin, v))
}

// ComputeIndicators K线足够时使用 talib 计算，否则退化为 24h 区间近似
func ComputeIndicators(price, low, high float64, candles []Candle) Indicators {
	ind := Indicators{Source: "range"}
	if low > 0 && high >= low {
		ind.Volatility = (high - low) / low * 100
	}

	if len(candles) > smaPeriod {
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		rsi, okRSI := lastValid(talib.Rsi(closes, rsiPeriod))
		sma, okSMA := lastValid(talib.Sma(closes, smaPeriod))
		ema, okEMA := lastValid(talib.Ema(closes, emaPeriod))
		if okRSI && okSMA && okEMA && sma > 0 {
			ind.RSI, ind.SMA20, ind.EMA12 = rsi, sma, ema
			ind.Source = "talib"
			return ind
		}
	}

	ind.RSI = RangeRSI(price, low, high)
	if high > 0 && low > 0 {
		ind.SMA20 = (high + low) / 2
	} else {
		ind.SMA20 = price
	}
	ind.EMA12 = price
	return ind
}

func lastValid(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
