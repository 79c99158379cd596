package allocation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultQuantityPrecision applies to symbols missing from the table.
const DefaultQuantityPrecision = 3

// quantityPrecision is the number of quantity decimals accepted per
// USDT-margined contract.
var quantityPrecision = map[string]int{
	"BTCUSDT":  3,
	"ETHUSDT":  3,
	"SOLUSDT":  0,
	"BNBUSDT":  2,
	"XRPUSDT":  0,
	"DOGEUSDT": 0,
	"ADAUSDT":  0,
	"AVAXUSDT": 0,
	"LINKUSDT": 1,
	"DOTUSDT":  0,
	"LTCUSDT":  2,
	"ATOMUSDT": 1,
	"UNIUSDT":  0,
	"NEARUSDT": 0,
	"APTUSDT":  1,
	"ARBUSDT":  0,
	"OPUSDT":   0,
	"SUIUSDT":  0,
	"AAVEUSDT": 1,
	"MKRUSDT":  3,
	"INJUSDT":  1,
	"FILUSDT":  0,
	"GMXUSDT":  2,
	"ORDIUSDT": 1,
	"ENSUSDT":  1,
	"TIAUSDT":  0,
	"WLDUSDT":  0,
	"SEIUSDT":  0,
	"PEPEUSDT": 0,
	"SHIBUSDT": 0,
}

// venueSymbol maps a source symbol such as "BTC" to "BTCUSDT".
func venueSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}

// RoundDownQuantity truncates qty toward zero at precision decimals.
// Decimal arithmetic keeps values such as 0.3 from flooring to 0.299.
func RoundDownQuantity(qty float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	f, _ := decimal.NewFromFloat(qty).Truncate(int32(precision)).Float64()
	return f
}
