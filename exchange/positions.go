package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// dustAmount 低于该数量视为已平仓
var dustAmount = decimal.New(1, -9)

// NetPosition 按移动加权平均成本由成交推导当前净持仓，无持仓返回 nil。
// 成交需按时间升序；方向翻转时剩余部分以成交价重新开仓。
// allowShort 为 false 时，超出持有数量的卖出被忽略（视为回溯窗口之前的存量）。
func NetPosition(symbol string, fills []Fill, allowShort bool) *TradingPosition {
	qty := decimal.Zero // 带符号：多头为正
	avg := decimal.Zero
	var openedAt time.Time
	openID := ""

	for _, f := range fills {
		amt := decimal.NewFromFloat(f.Amount)
		if !amt.IsPositive() {
			continue
		}
		price := decimal.NewFromFloat(f.Price)
		signed := amt
		if f.Side == SideSell {
			signed = amt.Neg()
		}

		switch {
		case qty.IsZero():
			if signed.IsNegative() && !allowShort {
				continue
			}
			qty, avg = signed, price
			openedAt, openID = f.Time, f.ID

		case qty.Sign() == signed.Sign():
			// 加仓：加权平均
			total := qty.Abs().Add(amt)
			avg = avg.Mul(qty.Abs()).Add(price.Mul(amt)).Div(total)
			qty = qty.Add(signed)

		default:
			// 减仓 / 翻转
			next := qty.Add(signed)
			switch {
			case next.Abs().LessThan(dustAmount):
				qty, avg = decimal.Zero, decimal.Zero
				openID = ""
			case next.Sign() == qty.Sign():
				qty = next
			case allowShort:
				qty, avg = next, price
				openedAt, openID = f.Time, f.ID
			default:
				qty, avg = decimal.Zero, decimal.Zero
				openID = ""
			}
		}
	}

	if qty.Abs().LessThan(dustAmount) {
		return nil
	}

	side := SideBuy
	if qty.IsNegative() {
		side = SideSell
	}
	entry, _ := avg.Float64()
	amount, _ := qty.Abs().Float64()
	return &TradingPosition{
		ID:           symbol + "-" + openID,
		Symbol:       symbol,
		Side:         side,
		Amount:       amount,
		EntryPrice:   entry,
		CurrentPrice: entry,
		Status:       PositionOpen,
		Timestamp:    openedAt,
	}
}

// FormatAmount 按精度截断并格式化数量（交易所要求字符串数值）
func FormatAmount(v float64, places int32) string {
	return decimal.NewFromFloat(v).Truncate(places).String()
}

// FormatPrice 按精度四舍五入并格式化价格
func FormatPrice(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}
