package gate

import (
	"fmt"

	"github.com/spf13/cast"
)

// Gate 现货接口的数值字段均为字符串，解析后统一为 float64

type serverTimeResp struct {
	ServerTime int64 `json:"server_time"`
}

type tickerResp struct {
	CurrencyPair     string `json:"currency_pair"`
	Last             string `json:"last"`
	LowestAsk        string `json:"lowest_ask"`
	HighestBid       string `json:"highest_bid"`
	ChangePercentage string `json:"change_percentage"`
	BaseVolume       string `json:"base_volume"`
	QuoteVolume      string `json:"quote_volume"`
	High24h          string `json:"high_24h"`
	Low24h           string `json:"low_24h"`
}

// Ticker 行情
type Ticker struct {
	CurrencyPair string
	Last         float64
	LowestAsk    float64
	HighestBid   float64
	ChangePct    float64
	BaseVolume   float64
	High24h      float64
	Low24h       float64
}

func (r tickerResp) parse() Ticker {
	return Ticker{
		CurrencyPair: r.CurrencyPair,
		Last:         cast.ToFloat64(r.Last),
		LowestAsk:    cast.ToFloat64(r.LowestAsk),
		HighestBid:   cast.ToFloat64(r.HighestBid),
		ChangePct:    cast.ToFloat64(r.ChangePercentage),
		BaseVolume:   cast.ToFloat64(r.BaseVolume),
		High24h:      cast.ToFloat64(r.High24h),
		Low24h:       cast.ToFloat64(r.Low24h),
	}
}

type orderBookResp struct {
	ID      int64      `json:"id"`
	Current int64      `json:"current"`
	Asks    [][]string `json:"asks"`
	Bids    [][]string `json:"bids"`
}

// Level 盘口档位
type Level struct {
	Price  float64
	Amount float64
}

// OrderBook 盘口
type OrderBook struct {
	Asks []Level
	Bids []Level
}

func parseLevels(raw [][]string) []Level {
	levels := make([]Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		levels = append(levels, Level{Price: cast.ToFloat64(l[0]), Amount: cast.ToFloat64(l[1])})
	}
	return levels
}

// Candle K线
type Candle struct {
	Time   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// parseCandle 解析 K 线数组: [时间, 计价成交额, 收盘, 最高, 最低, 开盘, 基础币成交量, 是否完结]
func parseCandle(raw []string) (Candle, error) {
	if len(raw) < 6 {
		return Candle{}, fmt.Errorf("K线字段不足: %v", raw)
	}
	c := Candle{
		Time:  cast.ToInt64(raw[0]),
		Close: cast.ToFloat64(raw[2]),
		High:  cast.ToFloat64(raw[3]),
		Low:   cast.ToFloat64(raw[4]),
		Open:  cast.ToFloat64(raw[5]),
	}
	if len(raw) > 6 {
		c.Volume = cast.ToFloat64(raw[6])
	}
	return c, nil
}

type accountResp struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// Account 币种余额
type Account struct {
	Currency  string
	Available float64
	Locked    float64
}

// OrderRequest 下单请求
type OrderRequest struct {
	Text         string `json:"text,omitempty"`
	CurrencyPair string `json:"currency_pair"`
	Type         string `json:"type"` // limit / market
	Account      string `json:"account"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price,omitempty"`
	TimeInForce  string `json:"time_in_force"` // gtc / ioc
}

type orderResp struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	CreateTimeMs any    `json:"create_time_ms"`
	CurrencyPair string `json:"currency_pair"`
	Status       string `json:"status"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	Left         string `json:"left"`
	FilledAmount string `json:"filled_amount"`
	FilledTotal  string `json:"filled_total"`
	AvgDealPrice string `json:"avg_deal_price"`
	Fee          string `json:"fee"`
	FinishAs     string `json:"finish_as"`
}

// Order 订单
type Order struct {
	ID           string
	Text         string
	CurrencyPair string
	Status       string // open / closed / cancelled
	Type         string
	Side         string
	Amount       float64
	Price        float64
	Left         float64
	FilledAmount float64
	AvgDealPrice float64
	Fee          float64
	FinishAs     string
	CreateTimeMs int64
}

func (r orderResp) parse() Order {
	o := Order{
		ID:           r.ID,
		Text:         r.Text,
		CurrencyPair: r.CurrencyPair,
		Status:       r.Status,
		Type:         r.Type,
		Side:         r.Side,
		Amount:       cast.ToFloat64(r.Amount),
		Price:        cast.ToFloat64(r.Price),
		Left:         cast.ToFloat64(r.Left),
		FilledAmount: cast.ToFloat64(r.FilledAmount),
		AvgDealPrice: cast.ToFloat64(r.AvgDealPrice),
		Fee:          cast.ToFloat64(r.Fee),
		FinishAs:     r.FinishAs,
		CreateTimeMs: int64(cast.ToFloat64(r.CreateTimeMs)),
	}
	if r.FilledAmount == "" {
		// 市价买单的 amount 是计价币金额，成交数量需要由成交额/均价得出
		filledTotal := cast.ToFloat64(r.FilledTotal)
		if o.AvgDealPrice > 0 && filledTotal > 0 {
			o.FilledAmount = filledTotal / o.AvgDealPrice
		} else {
			o.FilledAmount = o.Amount - o.Left
		}
	}
	return o
}

type openOrdersResp struct {
	CurrencyPair string      `json:"currency_pair"`
	Total        int         `json:"total"`
	Orders       []orderResp `json:"orders"`
}

type tradeResp struct {
	ID           string `json:"id"`
	CreateTimeMs string `json:"create_time_ms"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	OrderID      string `json:"order_id"`
	Fee          string `json:"fee"`
}

// Trade 成交记录
type Trade struct {
	ID           string
	OrderID      string
	CurrencyPair string
	Side         string
	Amount       float64
	Price        float64
	Fee          float64
	CreateTimeMs int64
}

func (r tradeResp) parse() Trade {
	return Trade{
		ID:           r.ID,
		OrderID:      r.OrderID,
		CurrencyPair: r.CurrencyPair,
		Side:         r.Side,
		Amount:       cast.ToFloat64(r.Amount),
		Price:        cast.ToFloat64(r.Price),
		Fee:          cast.ToFloat64(r.Fee),
		CreateTimeMs: int64(cast.ToFloat64(r.CreateTimeMs)),
	}
}
